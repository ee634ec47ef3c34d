package middleware

import (
	"net/http"
	"runtime/debug"

	"escrowflow/pkg/utils"
)

// Recovery перехватывает panic в handlers: логирует stack trace
// и отвечает 500, не роняя сервер
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler",
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						utils.Any("panic", rec),
						utils.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
