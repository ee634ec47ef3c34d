package svc

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"escrowflow/internal/api"
	"escrowflow/internal/bus"
	"escrowflow/internal/consumer"
	"escrowflow/internal/models"
	"escrowflow/internal/normalizer"
	"escrowflow/internal/notifier"
	"escrowflow/internal/projector"
	"escrowflow/internal/risk"
	"escrowflow/internal/source"
	"escrowflow/internal/websocket"
	"escrowflow/pkg/utils"
)

// Имена сервисов: client.id, group.id по умолчанию, компонент логов
const (
	ServiceListener      = "listener"
	ServiceStorageWriter = "storage-writer"
	ServiceRiskEngine    = "risk-engine"
	ServiceNotifier      = "notifier"
)

// RunListener: подписка на логи программы -> нормализация -> топик событий.
// Возвращает ошибку, если публикация исчерпала попытки или узел отклонил подписку.
func RunListener(ctx context.Context, sc *ServiceContext) error {
	cfg := sc.Cfg
	logger := sc.Logger.WithComponent(ServiceListener)

	commitment, err := models.ParseCommitment(cfg.Listener.Commitment)
	if err != nil {
		return err
	}

	publisher, err := sc.Publisher(ServiceListener)
	if err != nil {
		return err
	}
	defer publisher.Close()

	src := source.New(source.Config{
		WSURL:      cfg.Listener.WSURL,
		ProgramID:  cfg.Listener.ProgramID,
		Commitment: commitment,
	}, logger)

	norm := normalizer.New(normalizer.Config{
		Cluster:      cfg.Listener.Cluster,
		ProgramID:    cfg.Listener.ProgramID,
		Topic:        cfg.Kafka.EventsTopic,
		MaxInFlight:  cfg.Listener.MaxInFlight,
		Retry:        cfg.Retry.Policy(),
		DrainTimeout: cfg.Listener.DrainTimeout,
	}, publisher, logger)

	records := make(chan models.RawLog, max(cfg.Listener.Buffer, 1))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return src.Run(gctx, records)
	})
	g.Go(func() error {
		return norm.Run(gctx, records)
	})

	logger.Info("listener started",
		utils.String("program_id", cfg.Listener.ProgramID),
		utils.String("cluster", cfg.Listener.Cluster),
		utils.Commitment(string(commitment)))
	return g.Wait()
}

// RunStorageWriter: топик событий -> журнал и снимки; API чтения; плановая сверка
func RunStorageWriter(ctx context.Context, sc *ServiceContext) error {
	cfg := sc.Cfg
	logger := sc.Logger.WithComponent(ServiceStorageWriter)

	db, store, err := sc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	proj := projector.New(store.Events, store.Offers, projector.Config{
		OrphanMaxAttempts: cfg.Projector.OrphanMaxAttempts,
		OrphanBackoff:     cfg.Projector.OrphanBackoff,
	}, logger)

	auditor := projector.NewAuditor(store.Events, store.Offers, cfg.Projector.ReplayPageSize, logger)
	rebuilder := projector.NewRebuilder(store, cfg.Projector.ReplayPageSize, logger)

	if cfg.Projector.AuditSchedule != "" {
		c, err := auditor.Schedule(ctx, cfg.Projector.AuditSchedule)
		if err != nil {
			return err
		}
		defer c.Stop()
	}

	router := api.SetupRoutes(&api.Dependencies{
		Offers:         store.Offers,
		Events:         store.Events,
		Rebuilder:      rebuilder,
		Auditor:        auditor,
		Health:         store.Ping,
		AdminTokenHash: cfg.API.AdminTokenHash,
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, logger, "api", cfg.API.Port, router)
	})
	g.Go(func() error {
		return consume(gctx, sc, ServiceStorageWriter, []string{cfg.Kafka.EventsTopic}, proj, logger)
	})
	return g.Wait()
}

// RunRiskEngine: топик событий -> правила -> топик алертов
func RunRiskEngine(ctx context.Context, sc *ServiceContext) error {
	cfg := sc.Cfg
	logger := sc.Logger.WithComponent(ServiceRiskEngine)

	thresholds, err := risk.ThresholdsFromConfig(cfg.Risk)
	if err != nil {
		return err
	}

	publisher, err := sc.Publisher(ServiceRiskEngine)
	if err != nil {
		return err
	}
	defer publisher.Close()

	deduper, release, err := sc.OpenDeduper(ctx)
	if err != nil {
		return err
	}
	defer release()

	registry := risk.DefaultRegistry(thresholds)
	evaluator := risk.NewEvaluator(risk.Config{
		Topic: cfg.Kafka.AlertsTopic,
		Retry: cfg.Retry.Policy(),
	}, registry, risk.NewHistory(cfg.Risk.HistoryMakers, cfg.Risk.HistoryDepth), publisher, deduper, logger)

	logger.Info("risk rules loaded", utils.Int("rules", registry.Len()))
	return consume(ctx, sc, ServiceRiskEngine, []string{cfg.Kafka.EventsTopic}, evaluator, logger)
}

// RunNotifier: события и алерты -> дедупликация -> лог и /ws/stream
func RunNotifier(ctx context.Context, sc *ServiceContext) error {
	cfg := sc.Cfg
	logger := sc.Logger.WithComponent(ServiceNotifier)

	deduper, release, err := sc.OpenDeduper(ctx)
	if err != nil {
		return err
	}
	defer release()

	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	mux := newStreamMux(hub, websocket.NewOriginChecker(cfg.Notifier.AllowedOrigins))
	handler := notifier.New(notifier.Config{
		EventsTopic: cfg.Kafka.EventsTopic,
		AlertsTopic: cfg.Kafka.AlertsTopic,
	}, deduper, hub, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, logger, "ws", cfg.Notifier.WSPort, mux)
	})
	g.Go(func() error {
		topics := []string{cfg.Kafka.EventsTopic, cfg.Kafka.AlertsTopic}
		return consume(gctx, sc, ServiceNotifier, topics, handler, logger)
	})
	return g.Wait()
}

// consume крутит consumer.Runner до отмены ctx; закрывает клиента шины после остановки воркеров
func consume(ctx context.Context, sc *ServiceContext, service string, topics []string, handler consumer.Handler, logger *utils.Logger) error {
	c, err := sc.Consumer(service)
	if err != nil {
		return err
	}
	defer closeConsumer(c, logger)

	runner := consumer.NewRunner(c, topics, handler, consumer.Options{
		Name:         service,
		QueueSize:    sc.Cfg.Consumer.QueueSize,
		ApplyTimeout: sc.Cfg.Consumer.ApplyTimeout,
		Retry:        sc.Cfg.Retry.Policy(),
	}, logger)

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("%s consumer: %w", service, err)
	}
	return nil
}

func closeConsumer(c bus.Consumer, logger *utils.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("bus consumer close failed", utils.Err(err))
	}
}
