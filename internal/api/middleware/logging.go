package middleware

import (
	"net/http"
	"strconv"
	"time"

	"escrowflow/internal/metrics"
	"escrowflow/pkg/utils"
)

// responseWriter запоминает статус и размер ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logging пишет по строке на запрос и наблюдает длительность в metrics.HTTPRequestDuration.
// Формат: method, path, status, latency_ms, client_ip, bytes.
func Logging(logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			latency := utils.SinceMillis(start)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Observe(latency)

			logger.Info("http request",
				utils.String("method", r.Method),
				utils.String("path", r.URL.Path),
				utils.Int("status", wrapped.statusCode),
				utils.Latency(latency),
				utils.String("client_ip", ClientIP(r)),
				utils.Int64("bytes", wrapped.written))
		})
	}
}
