package listener_test

import (
	"context"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tlsforward/internal/listener"
)

var timeouts = listener.Timeouts{
	ReadHeader: time.Second,
	Idle:       time.Second,
	Write:      time.Second,
	Shutdown:   time.Second,
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, "OK")
})

var _ = Describe("Server", func() {
	Context("server creation", func() {
		DescribeTable("accepts valid addresses",
			func(addr string) {
				srv, err := listener.New(addr, okHandler, timeouts)
				Expect(err).NotTo(HaveOccurred())
				Expect(srv).NotTo(BeNil())
				Expect(srv.Addr()).To(BeNil())
			},
			Entry("hostname", "localhost:9999"),
			Entry("IPv4", "127.0.0.1:9999"),
			Entry("IPv6", "[::1]:9999"),
			Entry("port only", ":9999"),
		)

		DescribeTable("rejects invalid addresses",
			func(addr string) {
				srv, err := listener.New(addr, okHandler, timeouts)
				Expect(err).To(MatchError(ContainSubstring("invalid listen address")))
				Expect(srv).To(BeNil())
			},
			Entry("too many colons", "invalid:host:port"),
			Entry("missing port", "localhost"),
			Entry("empty port", "localhost:"),
			Entry("bad host", "bad_host!:80"),
		)
	})

	Context("server lifecycle", func() {
		It("should refuse to serve before listening", func() {
			srv, err := listener.New("127.0.0.1:0", okHandler, timeouts)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Serve()).To(MatchError(ContainSubstring("not listening")))
		})

		It("should serve on an ephemeral port and shut down cleanly", func() {
			srv, err := listener.New("127.0.0.1:0", okHandler, timeouts)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen(context.Background())).To(Succeed())
			Expect(srv.Addr()).NotTo(BeNil())

			served := make(chan error, 1)
			go func() { served <- srv.Serve() }()

			resp, err := http.Get("http://" + srv.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(string(body)).To(Equal("OK"))

			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(served).Should(Receive(BeNil()))
		})

		It("should shut down even when the caller's context is already done", func() {
			srv, err := listener.New("127.0.0.1:0", okHandler, timeouts)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen(context.Background())).To(Succeed())

			served := make(chan error, 1)
			go func() { served <- srv.Serve() }()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(srv.Shutdown(ctx)).To(Succeed())
			Eventually(served).Should(Receive(BeNil()))
		})
	})
})
