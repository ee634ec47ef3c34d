package projector

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"escrowflow/internal/metrics"
	"escrowflow/internal/models"
	"escrowflow/pkg/utils"
)

// Drift расхождение снимка с результатом воспроизведения журнала.
// Expected == nil: снимка не должно быть; Actual == nil: снимок отсутствует.
type Drift struct {
	OfferID  string
	Expected *models.Offer
	Actual   *models.Offer
}

// Auditor сверяет таблицу offers с воспроизведением журнала в памяти
type Auditor struct {
	events   EventPager
	offers   OfferLister
	pageSize int
	logger   *utils.Logger
}

func NewAuditor(events EventPager, offers OfferLister, pageSize int, logger *utils.Logger) *Auditor {
	if logger == nil {
		logger = utils.L()
	}
	return &Auditor{events: events, offers: offers, pageSize: pageSize, logger: logger.WithComponent("audit")}
}

// Run воспроизводит журнал и сравнивает результат с таблицей.
// Снимки, изменённые событиями новее последнего воспроизведённого слота,
// пропускаются: живая проекция могла обогнать чтение журнала.
func (a *Auditor) Run(ctx context.Context) ([]Drift, error) {
	expected := NewMemoryStore()
	view := NewOfferView(expected, func(context.Context) error {
		expected.Reset()
		return nil
	})

	stats, err := Replay(ctx, a.events, a.pageSize, view)
	if err != nil {
		return nil, fmt.Errorf("audit replay: %w", err)
	}

	actual, err := a.offers.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit list offers: %w", err)
	}

	want, err := expected.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit list replayed offers: %w", err)
	}
	wantByID := make(map[string]*models.Offer, len(want))
	for _, o := range want {
		wantByID[o.OfferID] = o
	}

	var drifts []Drift
	for _, got := range actual {
		if got.UpdatedSlot > stats.MaxSlot {
			delete(wantByID, got.OfferID)
			continue
		}
		exp, ok := wantByID[got.OfferID]
		delete(wantByID, got.OfferID)
		if !ok || !exp.SameState(got) {
			drifts = append(drifts, Drift{OfferID: got.OfferID, Expected: exp, Actual: got})
		}
	}
	for id, exp := range wantByID {
		drifts = append(drifts, Drift{OfferID: id, Expected: exp})
	}

	metrics.AuditDrift.Set(float64(len(drifts)))
	for _, d := range drifts {
		a.logger.Warn("snapshot drift", utils.OfferID(d.OfferID),
			utils.Any("expected", d.Expected), utils.Any("actual", d.Actual))
	}
	a.logger.Info("audit finished",
		utils.Int("events", stats.Events), utils.Int("offers", len(actual)), utils.Int("drift", len(drifts)))
	return drifts, nil
}

// Schedule запускает сверку по cron-выражению. Остановить - Stop() у результата.
func (a *Auditor) Schedule(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.Error("scheduled audit failed", utils.Err(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("audit schedule %q: %w", schedule, err)
	}
	c.Start()
	a.logger.Info("audit scheduled", utils.String("schedule", schedule))
	return c, nil
}
