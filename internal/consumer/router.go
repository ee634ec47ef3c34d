package consumer

import (
	"context"
	"sync"
	"time"

	"escrowflow/internal/bus"
	"escrowflow/internal/metrics"
	"escrowflow/pkg/retry"
	"escrowflow/pkg/utils"
)

// Options параметры обработки партиций
type Options struct {
	// Name - имя потребителя в метриках и логах
	Name string
	// QueueSize - буфер сообщений на партицию
	QueueSize int
	// ApplyTimeout ограничивает одно применение; при отзыве партиции
	// текущее применение дорабатывает в пределах этого таймаута
	ApplyTimeout time.Duration
	Retry        retry.Config
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "consumer"
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = 30 * time.Second
	}
}

// PartitionRouter раздаёт сообщения воркерам партиций.
// Внутри партиции сообщения применяются строго последовательно.
type PartitionRouter struct {
	mu      sync.Mutex
	workers map[bus.TopicPartition]*worker
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	handler   Handler
	committer Committer
	opts      Options
	logger    *utils.Logger

	fatal     chan error
	fatalOnce sync.Once
}

// NewPartitionRouter создает роутер
func NewPartitionRouter(handler Handler, committer Committer, opts Options, logger *utils.Logger) *PartitionRouter {
	opts.defaults()
	if logger == nil {
		logger = utils.L()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PartitionRouter{
		workers:   make(map[bus.TopicPartition]*worker),
		ctx:       ctx,
		cancel:    cancel,
		handler:   handler,
		committer: committer,
		opts:      opts,
		logger:    logger.WithComponent(opts.Name),
		fatal:     make(chan error, 1),
	}
}

// Fatal отдаёт первую неустранимую ошибку воркера
func (r *PartitionRouter) Fatal() <-chan error {
	return r.fatal
}

func (r *PartitionRouter) reportFatal(err error) {
	r.fatalOnce.Do(func() {
		r.fatal <- err
	})
}

// Dispatch отправляет сообщение воркеру его партиции, создавая воркер при необходимости.
// Блокируется, если очередь партиции заполнена.
func (r *PartitionRouter) Dispatch(ctx context.Context, msg *bus.Message) {
	tp := msg.TopicPartition()

	r.mu.Lock()
	w, ok := r.workers[tp]
	if !ok {
		w = newWorker(r, tp)
		r.workers[tp] = w
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			w.run()
		}()
		metrics.UpdateWorkers(r.opts.Name, len(r.workers))
	}
	r.mu.Unlock()

	select {
	case w.ch <- msg:
		return
	default:
	}

	r.logger.Warn("partition queue full, waiting",
		utils.Topic(tp.Topic), utils.Partition(tp.Partition), utils.Offset(msg.Offset))
	select {
	case w.ch <- msg:
	case <-w.ctx.Done():
		// воркер остановлен: сообщение не подтверждено и будет доставлено снова
	case <-ctx.Done():
	}
}

// Revoke останавливает воркеры отозванных партиций и ждёт завершения
// текущего применения. Подходит как bus.RevokeFunc.
func (r *PartitionRouter) Revoke(tps []bus.TopicPartition) {
	var stopped []*worker

	r.mu.Lock()
	for _, tp := range tps {
		if w, ok := r.workers[tp]; ok {
			delete(r.workers, tp)
			stopped = append(stopped, w)
		}
	}
	metrics.UpdateWorkers(r.opts.Name, len(r.workers))
	r.mu.Unlock()

	for _, w := range stopped {
		w.stop()
	}
	for _, w := range stopped {
		<-w.done
		r.logger.Info("partition revoked", utils.Topic(w.tp.Topic), utils.Partition(w.tp.Partition))
	}
}

// Stop останавливает все воркеры
func (r *PartitionRouter) Stop() {
	r.cancel()
	r.mu.Lock()
	for tp, w := range r.workers {
		w.stop()
		delete(r.workers, tp)
	}
	metrics.UpdateWorkers(r.opts.Name, 0)
	r.mu.Unlock()
	r.wg.Wait()
}

// Workers возвращает число активных воркеров
func (r *PartitionRouter) Workers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
