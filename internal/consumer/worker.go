package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"escrowflow/internal/bus"
	"escrowflow/internal/metrics"
	"escrowflow/pkg/retry"
	"escrowflow/pkg/utils"
)

const (
	resultApplied   = "applied"
	resultMalformed = "malformed"
	resultFailed    = "failed"
)

// worker обрабатывает одну партицию: применить, затем подтвердить
type worker struct {
	router *PartitionRouter
	tp     bus.TopicPartition
	ch     chan *bus.Message
	done   chan struct{}
	logger *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func newWorker(r *PartitionRouter, tp bus.TopicPartition) *worker {
	ctx, cancel := context.WithCancel(r.ctx)
	return &worker{
		router: r,
		tp:     tp,
		ch:     make(chan *bus.Message, r.opts.QueueSize),
		done:   make(chan struct{}),
		logger: r.logger.WithPartition(tp.Topic, tp.Partition),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (w *worker) stop() {
	w.cancel()
}

func (w *worker) run() {
	defer close(w.done)
	w.logger.Debug("partition worker started")

	for {
		// отмена имеет приоритет над очередью
		select {
		case <-w.ctx.Done():
			w.logger.Debug("partition worker exiting")
			return
		default:
		}

		select {
		case <-w.ctx.Done():
			w.logger.Debug("partition worker exiting")
			return
		case msg := <-w.ch:
			if err := w.process(msg); err != nil {
				w.router.reportFatal(err)
				return
			}
		}
	}
}

// process возвращает ошибку только если конвейер должен остановиться
func (w *worker) process(msg *bus.Message) error {
	start := time.Now()
	name := w.router.opts.Name

	policy := w.router.opts.Retry
	policy.RetryIf = shouldRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		w.logger.Warn("apply failed, retrying",
			utils.Offset(msg.Offset), utils.Attempt(attempt), utils.Err(err), utils.Duration("delay", delay))
	}

	err := retry.Do(w.ctx, func() error {
		return w.apply(msg)
	}, policy)

	switch {
	case err == nil:
		metrics.RecordConsumed(name, resultApplied, utils.SinceMillis(start))

	case errors.Is(err, ErrMalformed):
		w.logger.Error("skipping malformed message",
			utils.Offset(msg.Offset), utils.String("key", string(msg.Key)), utils.Err(err))
		metrics.RecordConsumed(name, resultMalformed, utils.SinceMillis(start))

	case w.ctx.Err() != nil:
		// партиция отозвана посреди повторов; без подтверждения, сообщение придёт снова
		return nil

	default:
		metrics.RecordConsumed(name, resultFailed, utils.SinceMillis(start))
		w.logger.Error("apply failed permanently, stopping",
			utils.Offset(msg.Offset), utils.Err(err))
		return fmt.Errorf("%s: %s offset %d: %w", name, w.tp, msg.Offset, err)
	}

	if err := w.router.committer.Commit(msg); err != nil {
		return fmt.Errorf("%s: commit %s offset %d: %w", name, w.tp, msg.Offset, err)
	}
	return nil
}

// apply выполняет обработчик в контексте, отвязанном от отмены воркера:
// начатое применение доводится до конца даже при отзыве партиции
func (w *worker) apply(msg *bus.Message) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), w.router.opts.ApplyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panic",
				utils.Offset(msg.Offset), utils.Any("panic", r), utils.String("stack", string(debug.Stack())))
			err = retry.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()

	return w.router.handler.Handle(ctx, msg)
}

// shouldRetry повторяет всё, кроме битых сообщений и явно постоянных ошибок.
// Таймаут применения тоже повторяется.
func shouldRetry(err error) bool {
	if errors.Is(err, ErrMalformed) {
		return false
	}
	var permanent *retry.PermanentError
	return !errors.As(err, &permanent)
}
