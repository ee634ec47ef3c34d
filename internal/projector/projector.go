// Package projector - проекция потока событий в журнал и снимки офферов.
//
// Журнал событий - источник истины; таблица offers - производное представление,
// которое полностью восстанавливается воспроизведением журнала (см. Replay).
package projector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowflow/internal/bus"
	"escrowflow/internal/consumer"
	"escrowflow/internal/metrics"
	"escrowflow/internal/models"
	"escrowflow/internal/repository"
	"escrowflow/pkg/utils"
)

// Config политика проекции
type Config struct {
	// OrphanMaxAttempts - сколько раз перечитать снимок для завершающего
	// события без созданного оффера, прежде чем записать диагностику
	OrphanMaxAttempts int
	OrphanBackoff     time.Duration
}

// Projector применяет события к журналу и снимкам
type Projector struct {
	events EventLog
	offers OfferStore
	cfg    Config
	logger *utils.Logger
}

// New создает проектор
func New(events EventLog, offers OfferStore, cfg Config, logger *utils.Logger) *Projector {
	if cfg.OrphanMaxAttempts < 0 {
		cfg.OrphanMaxAttempts = 0
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Projector{
		events: events,
		offers: offers,
		cfg:    cfg,
		logger: logger.WithComponent("projector"),
	}
}

// Handle - обработчик сообщений топика событий для consumer.Runner
func (p *Projector) Handle(ctx context.Context, msg *bus.Message) error {
	ev, err := models.DecodeEvent(msg.Value)
	if err != nil {
		return consumer.Malformed(err)
	}
	_, err = p.Apply(ctx, ev)
	return err
}

// Apply записывает событие в журнал и применяет его к снимку.
// Идемпотентна: повторное применение того же события ничего не меняет.
// Ошибка возвращается только для инфраструктурных сбоев.
func (p *Projector) Apply(ctx context.Context, ev *models.NormalizedEvent) (Outcome, error) {
	inserted, err := p.events.Append(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("append event %s: %w", ev.EventID, err)
	}
	if !inserted {
		// снимок всё равно проверяем: сбой мог случиться между журналом и снимком
		metrics.ProjectorDuplicates.Inc()
	}

	outcome, err := p.applySnapshot(ctx, ev)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeCreated || outcome == OutcomeDuplicateCreate {
		if err := p.applyLogged(ctx, ev); err != nil {
			return "", err
		}
	}

	metrics.RecordOutcome(string(outcome))
	log := p.logger.Debug
	if outcome == OutcomeOrphan {
		log = p.logger.Warn
	}
	log("event applied",
		utils.EventID(ev.EventID),
		utils.EventType(string(ev.EventType)),
		utils.OfferID(ev.OfferID),
		utils.Slot(ev.Slot),
		utils.Commitment(string(ev.Commitment)),
		utils.Outcome(string(outcome)),
		utils.Bool("first_seen", inserted))
	return outcome, nil
}

func (p *Projector) applySnapshot(ctx context.Context, ev *models.NormalizedEvent) (Outcome, error) {
	for attempt := 0; ; attempt++ {
		outcome, err := applyEvent(ctx, p.offers, ev)
		if err != nil || outcome != OutcomeOrphan {
			return outcome, err
		}
		if attempt >= p.cfg.OrphanMaxAttempts {
			metrics.ProjectorOrphans.Inc()
			return OutcomeOrphan, nil
		}

		p.logger.Debug("offer not found yet, waiting for create",
			utils.OfferID(ev.OfferID), utils.EventID(ev.EventID), utils.Attempt(attempt+1))
		if err := sleepCtx(ctx, p.cfg.OrphanBackoff); err != nil {
			return "", err
		}
	}
}

// applyLogged догоняет снимок по журналу после создания оффера.
// Завершающие события, записанные раньше создания (сироты), применяются в
// порядке воспроизведения, поэтому живой снимок совпадает с результатом Replay.
// При повторной доставке создания догоняющие события - no-op.
func (p *Projector) applyLogged(ctx context.Context, create *models.NormalizedEvent) error {
	logged, err := p.events.ListByOffer(ctx, create.OfferID)
	if err != nil {
		return fmt.Errorf("list events of offer %s: %w", create.OfferID, err)
	}

	createPos := repository.CursorAfter(create)
	for _, ev := range logged {
		if !ev.EventType.IsTerminal() || !cursorLess(createPos, repository.CursorAfter(ev)) {
			continue
		}
		outcome, err := applyEvent(ctx, p.offers, ev)
		if err != nil {
			return err
		}
		if outcome.Mutates() {
			metrics.RecordOutcome(string(outcome))
			p.logger.Info("logged event applied after create",
				utils.EventID(ev.EventID),
				utils.EventType(string(ev.EventType)),
				utils.OfferID(ev.OfferID),
				utils.Slot(ev.Slot))
		}
	}
	return nil
}

// applyEvent применяет одно событие к хранилищу снимков без ожиданий.
// Общий путь для живой проекции и воспроизведения журнала.
func applyEvent(ctx context.Context, offers OfferStore, ev *models.NormalizedEvent) (Outcome, error) {
	if ev.EventType == models.EventOfferCreated {
		created, err := offers.Create(ctx, models.NewOfferFromCreated(ev))
		if err != nil {
			return "", fmt.Errorf("create offer %s: %w", ev.OfferID, err)
		}
		if created {
			return OutcomeCreated, nil
		}
		return OutcomeDuplicateCreate, nil
	}

	applied, err := offers.Transition(ctx, ev.OfferID, ev.TargetStatus(), ev.Taker, ev.Slot)
	if err != nil {
		return "", fmt.Errorf("transition offer %s: %w", ev.OfferID, err)
	}
	if applied {
		return OutcomeTransitioned, nil
	}

	// ноль затронутых строк: перечитываем снимок и классифицируем отказ
	current, err := offers.GetByID(ctx, ev.OfferID)
	if errors.Is(err, repository.ErrOfferNotFound) {
		return OutcomeOrphan, nil
	}
	if err != nil {
		return "", fmt.Errorf("read offer %s: %w", ev.OfferID, err)
	}

	decision := Decide(current, ev)
	if decision.Outcome.Mutates() {
		// снимок сменился между обновлением и чтением; повтор применит событие
		return "", fmt.Errorf("offer %s changed concurrently", ev.OfferID)
	}
	return decision.Outcome, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
