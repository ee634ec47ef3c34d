package svc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"escrowflow/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

// serveHTTP обслуживает handler на port до отмены ctx, затем плавно останавливается
func serveHTTP(ctx context.Context, logger *utils.Logger, name string, port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", utils.String("server", name), utils.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server forced to shutdown", utils.String("server", name), utils.Err(err))
	}
	logger.Info("http server stopped", utils.String("server", name))
	return nil
}
