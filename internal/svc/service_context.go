// Package svc собирает зависимости сервисов конвейера из конфигурации
// и запускает стадии: listener, storage-writer, risk-engine, notifier.
package svc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"escrowflow/internal/bus"
	"escrowflow/internal/config"
	"escrowflow/internal/dedup"
	"escrowflow/internal/metrics"
	"escrowflow/internal/repository"
	"escrowflow/pkg/utils"
)

const dedupPrefix = "escrowflow:"

// ServiceContext общие зависимости процесса
type ServiceContext struct {
	Cfg    *config.Config
	Logger *utils.Logger

	// memory - общая шина процесса при kafka.driver=memory
	memory *bus.MemoryBus

	mu     sync.Mutex
	checks []metrics.HealthCheck
}

// NewServiceContext инициализирует глобальный логгер по cfg.Logger
func NewServiceContext(cfg *config.Config) *ServiceContext {
	logger := utils.InitGlobalLogger(LogConfig(cfg.Logger))
	sc := &ServiceContext{Cfg: cfg, Logger: logger}
	if cfg.Kafka.Driver == "memory" {
		sc.memory = bus.NewMemoryBus(cfg.Kafka.Partitions)
	}
	return sc
}

// LogConfig переводит секцию logger в настройки utils
func LogConfig(c config.LoggerConfig) utils.LogConfig {
	return utils.LogConfig{
		Level:       c.Level,
		Format:      c.Format,
		Output:      c.Output,
		Development: c.Development,
		MaxSizeMB:   c.MaxSizeMB,
		MaxBackups:  c.MaxBackups,
		MaxAgeDays:  c.MaxAgeDays,
		Compress:    c.Compress,
	}
}

// MemoryBus общая шина процесса; nil для драйвера kafka
func (sc *ServiceContext) MemoryBus() *bus.MemoryBus {
	return sc.memory
}

// Publisher создает продюсера шины для service
func (sc *ServiceContext) Publisher(service string) (bus.Publisher, error) {
	if sc.memory != nil {
		// шину закрывает владелец процесса, а не стадия
		return sharedPublisher{sc.memory}, nil
	}
	return bus.NewKafkaProducer(sc.Cfg.Kafka, service)
}

// Consumer создает потребителя группы service
func (sc *ServiceContext) Consumer(service string) (bus.Consumer, error) {
	group := sc.Cfg.Kafka.GroupFor(service)
	if sc.memory != nil {
		return sc.memory.Consumer(group, 0), nil
	}
	return bus.NewKafkaConsumer(sc.Cfg.Kafka, group, service)
}

// OpenStore подключается к PostgreSQL и при database.migrate применяет миграции
func (sc *ServiceContext) OpenStore(ctx context.Context) (*sql.DB, *repository.Store, error) {
	db, err := repository.Open(ctx, sc.Cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	sc.Logger.Info("connected to database", utils.String("dsn", sc.Cfg.Database.DSNWithoutPassword()))

	if sc.Cfg.Database.Migrate {
		if err := repository.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		sc.Logger.Info("database migrations applied")
	}

	store := repository.NewStore(db)
	sc.AddHealthCheck("postgres", store.Ping)
	return db, store, nil
}

// OpenDeduper возвращает хранилище ключей идемпотентности: Redis, если
// включён, иначе LRU в памяти процесса. release освобождает соединение.
func (sc *ServiceContext) OpenDeduper(ctx context.Context) (d dedup.Deduper, release func(), err error) {
	if !sc.Cfg.Redis.Enabled {
		sc.Logger.Warn("redis disabled, idempotency keys are kept in process memory only")
		return dedup.NewMemoryDeduper(0), func() {}, nil
	}

	rd, err := dedup.OpenRedis(ctx, sc.Cfg.Redis, dedupPrefix)
	if err != nil {
		return nil, nil, err
	}
	sc.AddHealthCheck("redis", rd.Ping)
	return rd, func() { _ = rd.Close() }, nil
}

// AddHealthCheck регистрирует проверку для /healthz
func (sc *ServiceContext) AddHealthCheck(name string, check func(ctx context.Context) error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.checks = append(sc.checks, metrics.HealthCheck{Name: name, Check: check})
}

// CheckHealth выполняет все зарегистрированные проверки
func (sc *ServiceContext) CheckHealth(ctx context.Context) error {
	sc.mu.Lock()
	checks := append([]metrics.HealthCheck(nil), sc.checks...)
	sc.mu.Unlock()

	var errs []error
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Monitor сервер /metrics и /healthz на monitor.port
func (sc *ServiceContext) Monitor() *metrics.MonitorServer {
	return metrics.NewMonitorServer(sc.Cfg.Monitor.Port,
		metrics.HealthCheck{Name: "dependencies", Check: sc.CheckHealth})
}

// Close освобождает общие ресурсы процесса
func (sc *ServiceContext) Close() {
	if sc.memory != nil {
		sc.memory.Close()
	}
	_ = sc.Logger.Sync()
}

type sharedPublisher struct {
	*bus.MemoryBus
}

func (sharedPublisher) Close() {}
