package svc

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"escrowflow/internal/config"
	"escrowflow/pkg/utils"
)

// Stage долгоживущая часть конвейера
type Stage func(ctx context.Context, sc *ServiceContext) error

// Run загружает конфигурацию, поднимает monitor-сервер и выполняет stage до
// SIGINT/SIGTERM. Возвращает код выхода процесса: 1, если stage завершилась ошибкой.
func Run(service, configFile string, stage Stage) (code int) {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: load config: %v\n", service, err)
		return 1
	}

	sc := NewServiceContext(cfg)
	defer sc.Close()
	logger := sc.Logger.WithComponent(service)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic", utils.Any("panic", r), utils.String("stack", string(debug.Stack())))
			code = 1
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := sc.Monitor()
	monitor.Start()
	defer monitor.Stop()

	logger.Info("service starting", utils.String("config", configFile), utils.String("bus_driver", cfg.Kafka.Driver))
	if err := stage(ctx, sc); err != nil {
		logger.Error("service stopped with error", utils.Err(err))
		return 1
	}
	logger.Info("service stopped")
	return 0
}

// RunAll запускает все стадии в одном процессе (удобно с kafka.driver=memory).
// Ошибка любой стадии останавливает остальные.
func RunAll(ctx context.Context, sc *ServiceContext) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, stage := range []Stage{RunListener, RunStorageWriter, RunRiskEngine, RunNotifier} {
		stage := stage
		g.Go(func() error { return stage(gctx, sc) })
	}
	return g.Wait()
}
