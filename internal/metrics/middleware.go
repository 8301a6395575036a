package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder captures the status code written to an
// http.ResponseWriter so instrumentation can label it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument wraps next so every request updates RequestsTotal and
// RequestDuration labeled by the final response status.
func (m *Registry) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		label := strconv.Itoa(rec.status)
		m.RequestsTotal.WithLabelValues(label).Inc()
		m.RequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	})
}
