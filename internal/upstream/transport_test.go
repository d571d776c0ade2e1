package upstream_test

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tlsforward/internal/upstream"
)

var _ = Describe("NewTransport", func() {
	var (
		server *httptest.Server
		cfg    upstream.TransportConfig
	)

	BeforeEach(func() {
		server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "identity")
			w.Header().Set("X-Accept-Encoding", r.Header.Get("Accept-Encoding"))
			w.WriteHeader(http.StatusNoContent)
		}))

		cfg = upstream.TransportConfig{
			DialTimeout:           time.Second,
			TLSHandshakeTimeout:   time.Second,
			ResponseHeaderTimeout: time.Second,
			IdleConnTimeout:       time.Second,
			MaxIdleConns:          4,
		}
	})

	AfterEach(func() {
		server.Close()
	})

	get := func(t *http.Transport) (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		Expect(err).NotTo(HaveOccurred())
		return t.RoundTrip(req)
	}

	It("should verify certificates by default", func() {
		t, err := upstream.NewTransport(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.TLSClientConfig.InsecureSkipVerify).To(BeFalse())

		_, err = get(t)
		Expect(err).To(HaveOccurred())
	})

	It("should skip verification only when asked", func() {
		cfg.InsecureSkipVerify = true
		t, err := upstream.NewTransport(cfg)
		Expect(err).NotTo(HaveOccurred())

		resp, err := get(t)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
	})

	It("should not add Accept-Encoding on its own", func() {
		cfg.InsecureSkipVerify = true
		t, err := upstream.NewTransport(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.DisableCompression).To(BeTrue())

		resp, err := get(t)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.Header.Get("X-Accept-Encoding")).To(BeEmpty())
	})

	It("should apply pool settings and timeouts", func() {
		t, err := upstream.NewTransport(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.MaxIdleConns).To(Equal(4))
		Expect(t.ResponseHeaderTimeout).To(Equal(time.Second))
		Expect(t.TLSHandshakeTimeout).To(Equal(time.Second))
		Expect(t.Proxy).To(BeNil())
	})

	It("should never negotiate HTTP/2", func() {
		t, err := upstream.NewTransport(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.ForceAttemptHTTP2).To(BeFalse())
		Expect(t.TLSNextProto).NotTo(BeNil())
		Expect(t.TLSNextProto).To(BeEmpty())
	})

	Context("with a CA file", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "transport-test-*")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("should trust the bundled certificate", func() {
			caFile := filepath.Join(dir, "ca.pem")
			block := &pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw}
			Expect(os.WriteFile(caFile, pem.EncodeToMemory(block), 0600)).To(Succeed())

			cfg.CAFile = caFile
			t, err := upstream.NewTransport(cfg)
			Expect(err).NotTo(HaveOccurred())

			resp, err := get(t)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("should fail on a missing file", func() {
			cfg.CAFile = filepath.Join(dir, "missing.pem")
			_, err := upstream.NewTransport(cfg)
			Expect(err).To(MatchError(ContainSubstring("read CA file")))
		})

		It("should fail on a file without certificates", func() {
			caFile := filepath.Join(dir, "empty.pem")
			Expect(os.WriteFile(caFile, []byte("not a certificate"), 0600)).To(Succeed())

			cfg.CAFile = caFile
			_, err := upstream.NewTransport(cfg)
			Expect(err).To(MatchError(upstream.ErrNoCertificates))
		})
	})
})
