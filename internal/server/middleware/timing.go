package middleware

import (
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderProcessTime   = "X-Process-Time"
	HeaderProcessTimeMS = "X-Process-Time-MS"
)

// timingWriter stamps the elapsed time on the headers right before they are sent.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		d := time.Since(w.start)
		h := w.Header()
		h.Set(HeaderProcessTime, strconv.FormatFloat(d.Seconds(), 'f', 4, 64))
		h.Set(HeaderProcessTimeMS, strconv.FormatInt(d.Milliseconds(), 10))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Timing reports the handler time in X-Process-Time (seconds) and
// X-Process-Time-MS.
func Timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &timingWriter{ResponseWriter: w, start: time.Now()}
		next.ServeHTTP(tw, r)
		if !tw.wroteHeader {
			tw.WriteHeader(http.StatusOK)
		}
	})
}
