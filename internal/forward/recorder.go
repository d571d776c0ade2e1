package forward

import "net/http"

// statusRecorder remembers the status relayed to the client and the error,
// if any, reported by the reverse proxy.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	err        error
}

func (r *statusRecorder) WriteHeader(code int) {
	// 1xx responses are relayed but are not the final status.
	if r.statusCode == 0 && code >= http.StatusOK {
		r.statusCode = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer for
// flushing.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
