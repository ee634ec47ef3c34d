// Package risk оценивает события правилами и публикует алерты в escrow.alerts.v1.
package risk

import (
	"context"
	"fmt"
	"time"

	"escrowflow/internal/bus"
	"escrowflow/internal/consumer"
	"escrowflow/internal/dedup"
	"escrowflow/internal/metrics"
	"escrowflow/internal/models"
	"escrowflow/pkg/retry"
	"escrowflow/pkg/utils"
)

// Config параметры публикации алертов
type Config struct {
	Topic string
	Retry retry.Config
}

// Evaluator прогоняет событие через реестр правил
type Evaluator struct {
	cfg       Config
	registry  *Registry
	history   *History
	publisher bus.Publisher
	deduper   dedup.Deduper
	logger    *utils.Logger
}

func NewEvaluator(cfg Config, registry *Registry, history *History, publisher bus.Publisher, deduper dedup.Deduper, logger *utils.Logger) *Evaluator {
	if logger == nil {
		logger = utils.L()
	}
	return &Evaluator{
		cfg:       cfg,
		registry:  registry,
		history:   history,
		publisher: publisher,
		deduper:   deduper,
		logger:    logger.WithComponent("risk"),
	}
}

// Evaluate запускает все правила и затем записывает событие в историю.
// Ошибка или паника правила не мешает остальным.
func (e *Evaluator) Evaluate(ev *models.NormalizedEvent) []models.AlertEvent {
	var alerts []models.AlertEvent
	for _, rule := range e.registry.Rules() {
		found, err := e.runRule(rule, ev)
		if err != nil {
			metrics.RecordRuleFailure(rule.ID)
			e.logger.Warn("rule evaluation failed",
				utils.RuleID(rule.ID), utils.EventID(ev.EventID), utils.Err(err))
			continue
		}
		alerts = append(alerts, found...)
	}
	e.history.Record(ev)
	return alerts
}

func (e *Evaluator) runRule(rule Rule, ev *models.NormalizedEvent) (alerts []models.AlertEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Eval(ev, e.history)
}

// Handle обработчик ConsumerFramework для escrow.events.v1
func (e *Evaluator) Handle(ctx context.Context, msg *bus.Message) error {
	ev, err := models.DecodeEvent(msg.Value)
	if err != nil {
		return consumer.Malformed(err)
	}

	for _, alert := range e.Evaluate(ev) {
		if err := e.emit(ctx, alert); err != nil {
			return err
		}
	}
	return nil
}

// emit публикует алерт, если он ещё не публиковался.
// Отметка в dedup ставится только после успешной публикации.
func (e *Evaluator) emit(ctx context.Context, alert models.AlertEvent) error {
	seen, err := e.deduper.Seen(ctx, dedupKey(alert.AlertID))
	if err != nil {
		return fmt.Errorf("check alert %s: %w", alert.AlertID, err)
	}
	if seen {
		e.logger.Debug("alert already emitted", utils.AlertID(alert.AlertID))
		return nil
	}

	payload, err := models.EncodeAlert(&alert)
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode alert %s: %w", alert.AlertID, err))
	}

	policy := e.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.RecordPublishRetry(e.cfg.Topic)
		e.logger.Warn("alert publish failed, retrying",
			utils.AlertID(alert.AlertID), utils.Attempt(attempt), utils.Err(err))
	}
	start := time.Now()
	err = retry.Do(ctx, func() error {
		return e.publisher.Publish(ctx, e.cfg.Topic, alert.Maker, payload)
	}, policy)
	if err != nil {
		// повторять на уровне консьюмера незачем: попытки уже исчерпаны
		return retry.Permanent(fmt.Errorf("publish alert %s: %w", alert.AlertID, err))
	}
	metrics.RecordPublish(e.cfg.Topic, float64(time.Since(start).Milliseconds()))

	if err := e.deduper.Mark(ctx, dedupKey(alert.AlertID)); err != nil {
		return fmt.Errorf("mark alert %s: %w", alert.AlertID, err)
	}
	metrics.RecordAlert(alert.RuleID)
	e.logger.Info("alert emitted",
		utils.AlertID(alert.AlertID), utils.RuleID(alert.RuleID),
		utils.String("severity", string(alert.Severity)), utils.Maker(alert.Maker))
	return nil
}

func dedupKey(alertID string) string { return "risk:alert:" + alertID }
