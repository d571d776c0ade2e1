// Upstream is a throwaway HTTPS server for trying tlsforward by hand. It
// answers every request with a JSON echo of what it received, using a
// self-signed certificate, so routes need --insecure-skip-verify (or
// --ca-file with the certificate written by --cert-out).
//
// Usage:
//
//	go run ./scripts/upstream --port 8443
//	go run ./scripts/upstream --port 8443 --status 503 --delay 2s
package main

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tlsforward/pkg/logger"
)

// Echo is the response body.
type Echo struct {
	Method        string      `json:"method"`
	Host          string      `json:"host"`
	RequestURI    string      `json:"request_uri"`
	Header        http.Header `json:"header"`
	ContentLength int64       `json:"content_length"`
	BodyBytes     int         `json:"body_bytes"`
}

func main() {
	port := pflag.Int("port", 8443, "port to listen on")
	status := pflag.Int("status", http.StatusOK, "status code to answer with")
	delay := pflag.Duration("delay", 0, "wait this long before answering")
	certOut := pflag.String("cert-out", "", "write the server certificate as PEM to this file")
	pflag.Parse()

	log := logger.New("info", false, "dev")

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.Info("request",
			slog.String("method", r.Method),
			slog.String("uri", r.RequestURI),
			slog.String("host", r.Host),
			slog.Int("body_bytes", len(body)))

		if *delay > 0 {
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(*status)
		_ = json.NewEncoder(w).Encode(Echo{
			Method:        r.Method,
			Host:          r.Host,
			RequestURI:    r.RequestURI,
			Header:        r.Header,
			ContentLength: r.ContentLength,
			BodyBytes:     len(body),
		})
	}))

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(*port)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	srv.Listener.Close()
	srv.Listener = ln
	srv.StartTLS()
	defer srv.Close()

	if *certOut != "" {
		block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
		if err := os.WriteFile(*certOut, pem.EncodeToMemory(block), 0o600); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	log.Info("upstream listening", slog.String("url", srv.URL))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
