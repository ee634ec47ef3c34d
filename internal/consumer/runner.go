package consumer

import (
	"context"
	"fmt"

	"escrowflow/internal/bus"
	"escrowflow/pkg/utils"
)

// Runner - цикл опроса шины для одного потребителя
type Runner struct {
	consumer bus.Consumer
	topics   []string
	router   *PartitionRouter
	logger   *utils.Logger
}

// NewRunner создает цикл потребителя. Подтверждения идут через тот же consumer.
func NewRunner(c bus.Consumer, topics []string, handler Handler, opts Options, logger *utils.Logger) *Runner {
	router := NewPartitionRouter(handler, c, opts, logger)
	return &Runner{
		consumer: c,
		topics:   topics,
		router:   router,
		logger:   router.logger,
	}
}

// Router возвращает роутер партиций
func (r *Runner) Router() *PartitionRouter {
	return r.router
}

// Run читает шину до отмены ctx или неустранимой ошибки.
// nil при штатной остановке; ошибка означает, что процесс должен завершиться.
// Consumer не закрывается: это делает владелец после возврата Run.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.consumer.Subscribe(r.topics, r.router.Revoke); err != nil {
		return fmt.Errorf("subscribe %v: %w", r.topics, err)
	}
	defer r.router.Stop()

	r.logger.Info("consumer started", utils.Any("topics", r.topics))

	for {
		select {
		case err := <-r.router.Fatal():
			return err
		case <-ctx.Done():
			r.logger.Info("consumer stopping")
			return nil
		default:
		}

		msg, err := r.consumer.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poll: %w", err)
		}
		if msg == nil {
			continue
		}
		r.router.Dispatch(ctx, msg)
	}
}
