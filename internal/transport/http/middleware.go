package http

import "net/http"

// SecurityHeadersMiddleware strips identifying headers from every
// response and sets Server to the fixed value "aibridge", adapted from the teacher's internal/server/middleware.go
// (same headerRemovalWriter trick, narrowed to this transport's own
// response writer).
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hw := &headerRemovalWriter{ResponseWriter: w}
		next.ServeHTTP(hw, r)
	})
}

// headerRemovalWriter deletes Server/X-Powered-By and sets
// Server: aibridge just before the first WriteHeader/Write call, since
// headers can't be changed once flushed.
type headerRemovalWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *headerRemovalWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")
		w.Header().Set("Server", "aibridge")
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *headerRemovalWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets SSE/streaming handlers flush through the wrapper, same as
// the teacher's headerRemovalWriter.
func (w *headerRemovalWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
