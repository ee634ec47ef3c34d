package projector

import (
	"context"
	"fmt"
	"time"

	"escrowflow/internal/metrics"
	"escrowflow/internal/models"
	"escrowflow/internal/repository"
	"escrowflow/pkg/utils"
)

const defaultReplayPageSize = 1000

// DerivedView - представление, которое строится только из журнала событий.
// Любое представление обязано переживать полное перестроение: Reset, затем
// Apply каждого события журнала в порядке воспроизведения.
type DerivedView interface {
	Name() string
	Reset(ctx context.Context) error
	Apply(ctx context.Context, ev *models.NormalizedEvent) (Outcome, error)
}

// ReplayStats итог воспроизведения
type ReplayStats struct {
	Events   int
	MaxSlot  uint64
	Outcomes map[Outcome]int
	Duration time.Duration
}

// Replay сбрасывает представления и прогоняет через них весь журнал
// страницами по pageSize в порядке воспроизведения
func Replay(ctx context.Context, src EventPager, pageSize int, views ...DerivedView) (ReplayStats, error) {
	if pageSize <= 0 {
		pageSize = defaultReplayPageSize
	}
	start := time.Now()
	stats := ReplayStats{Outcomes: make(map[Outcome]int)}

	for _, v := range views {
		if err := v.Reset(ctx); err != nil {
			return stats, fmt.Errorf("reset view %s: %w", v.Name(), err)
		}
	}

	var cursor repository.ReplayCursor
	for {
		page, err := src.Page(ctx, cursor, pageSize)
		if err != nil {
			return stats, fmt.Errorf("read event log after slot %d: %w", cursor.Slot, err)
		}

		for _, ev := range page {
			for _, v := range views {
				outcome, err := v.Apply(ctx, ev)
				if err != nil {
					return stats, fmt.Errorf("view %s: event %s: %w", v.Name(), ev.EventID, err)
				}
				stats.Outcomes[outcome]++
			}
			stats.Events++
			if ev.Slot > stats.MaxSlot {
				stats.MaxSlot = ev.Slot
			}
		}
		metrics.ReplayEvents.Add(float64(len(page)))

		if len(page) < pageSize {
			break
		}
		cursor = repository.CursorAfter(page[len(page)-1])
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// OfferView - таблица снимков офферов как производное представление
type OfferView struct {
	offers OfferStore
	reset  func(ctx context.Context) error
}

// NewOfferView создает представление поверх хранилища снимков; reset очищает его
func NewOfferView(offers OfferStore, reset func(ctx context.Context) error) *OfferView {
	return &OfferView{offers: offers, reset: reset}
}

func (v *OfferView) Name() string { return "offers" }

func (v *OfferView) Reset(ctx context.Context) error {
	if v.reset == nil {
		return nil
	}
	return v.reset(ctx)
}

// Apply применяет событие без ожидания сирот: журнал упорядочен по slot,
// создание всегда идёт раньше завершающих событий того же оффера
func (v *OfferView) Apply(ctx context.Context, ev *models.NormalizedEvent) (Outcome, error) {
	return applyEvent(ctx, v.offers, ev)
}

// TxStore даёт транзакционный доступ к журналу и снимкам (repository.Store)
type TxStore interface {
	InTx(ctx context.Context, fn func(events *repository.EventRepository, offers *repository.OfferRepository) error) error
}

// Rebuilder перестраивает таблицу offers из журнала
type Rebuilder struct {
	store    TxStore
	pageSize int
	logger   *utils.Logger
}

func NewRebuilder(store TxStore, pageSize int, logger *utils.Logger) *Rebuilder {
	if logger == nil {
		logger = utils.L()
	}
	return &Rebuilder{store: store, pageSize: pageSize, logger: logger.WithComponent("rebuild")}
}

// RebuildOffers очищает offers и воспроизводит журнал в одной транзакции:
// читатели видят либо старую таблицу, либо полностью перестроенную
func (r *Rebuilder) RebuildOffers(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats
	err := r.store.InTx(ctx, func(events *repository.EventRepository, offers *repository.OfferRepository) error {
		var err error
		stats, err = Replay(ctx, events, r.pageSize, NewOfferView(offers, offers.Truncate))
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("rebuild offers: %w", err)
	}

	r.logger.Info("offers rebuilt from event log",
		utils.Int("events", stats.Events),
		utils.Uint64("max_slot", stats.MaxSlot),
		utils.Int("orphans", stats.Outcomes[OutcomeOrphan]),
		utils.Duration("duration", stats.Duration))
	return stats, nil
}
