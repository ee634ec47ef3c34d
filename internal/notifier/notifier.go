// Package notifier доводит события и алерты до людей: строка в логе
// и сообщение в websocket-поток. Каждое уведомление выполняется не более
// одного раза на event_id / alert_id (ключ занимается до побочного эффекта).
package notifier

import (
	"context"
	"fmt"

	"escrowflow/internal/bus"
	"escrowflow/internal/consumer"
	"escrowflow/internal/dedup"
	"escrowflow/internal/metrics"
	"escrowflow/internal/models"
	"escrowflow/pkg/utils"
)

const (
	kindEvent = "event"
	kindAlert = "alert"

	resultDelivered = "delivered"
	resultDuplicate = "duplicate"
)

// Broadcaster получатель уведомлений (websocket.Hub)
type Broadcaster interface {
	BroadcastEvent(ev *models.NormalizedEvent)
	BroadcastAlert(a *models.AlertEvent)
}

// Config топики, которые читает нотификатор
type Config struct {
	EventsTopic string
	AlertsTopic string
}

// Notifier обработчик ConsumerFramework для обоих топиков
type Notifier struct {
	cfg         Config
	deduper     dedup.Deduper
	broadcaster Broadcaster
	logger      *utils.Logger
}

// New создает нотификатор; broadcaster может быть nil (только лог)
func New(cfg Config, deduper dedup.Deduper, broadcaster Broadcaster, logger *utils.Logger) *Notifier {
	if logger == nil {
		logger = utils.L()
	}
	return &Notifier{
		cfg:         cfg,
		deduper:     deduper,
		broadcaster: broadcaster,
		logger:      logger.WithComponent("notifier"),
	}
}

func (n *Notifier) Handle(ctx context.Context, msg *bus.Message) error {
	switch msg.Topic {
	case n.cfg.EventsTopic:
		ev, err := models.DecodeEvent(msg.Value)
		if err != nil {
			return consumer.Malformed(err)
		}
		return n.notifyEvent(ctx, ev)
	case n.cfg.AlertsTopic:
		alert, err := models.DecodeAlert(msg.Value)
		if err != nil {
			return consumer.Malformed(err)
		}
		return n.notifyAlert(ctx, alert)
	default:
		return consumer.Malformed(fmt.Errorf("unexpected topic %q", msg.Topic))
	}
}

// claim занимает ключ; false - уведомление уже отправлено
func (n *Notifier) claim(ctx context.Context, kind, id string) (bool, error) {
	ok, err := n.deduper.Claim(ctx, "notify:"+kind+":"+id)
	if err != nil {
		return false, fmt.Errorf("claim %s %s: %w", kind, id, err)
	}
	if !ok {
		metrics.RecordNotification(kind, resultDuplicate)
	}
	return ok, nil
}

func (n *Notifier) notifyEvent(ctx context.Context, ev *models.NormalizedEvent) error {
	ok, err := n.claim(ctx, kindEvent, ev.EventID)
	if err != nil || !ok {
		return err
	}

	taker := ""
	if ev.Taker != nil {
		taker = *ev.Taker
	}
	n.logger.Info("escrow event",
		utils.EventType(string(ev.EventType)), utils.OfferID(ev.OfferID),
		utils.Maker(ev.Maker), utils.String("taker", taker),
		utils.String("amount_a", ev.AmountA), utils.String("amount_b", ev.AmountB),
		utils.Slot(ev.Slot), utils.Commitment(string(ev.Commitment)))
	if n.broadcaster != nil {
		n.broadcaster.BroadcastEvent(ev)
	}
	metrics.RecordNotification(kindEvent, resultDelivered)
	return nil
}

func (n *Notifier) notifyAlert(ctx context.Context, alert *models.AlertEvent) error {
	ok, err := n.claim(ctx, kindAlert, alert.AlertID)
	if err != nil || !ok {
		return err
	}

	offerID := ""
	if alert.OfferID != nil {
		offerID = *alert.OfferID
	}
	n.logger.Warn("risk alert",
		utils.String("severity", string(alert.Severity)), utils.RuleID(alert.RuleID),
		utils.Maker(alert.Maker), utils.OfferID(offerID), utils.AlertID(alert.AlertID))
	if n.broadcaster != nil {
		n.broadcaster.BroadcastAlert(alert)
	}
	metrics.RecordNotification(kindAlert, resultDelivered)
	return nil
}
