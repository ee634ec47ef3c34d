package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"escrowflow/internal/models"
	"escrowflow/internal/projector"
	"escrowflow/internal/repository"
)

var errStorage = errors.New("storage unavailable")

// MockOfferReader хранит снимки в памяти
type MockOfferReader struct {
	offers map[string]*models.Offer
	err    error
	limits []int
}

func NewMockOfferReader(offers ...*models.Offer) *MockOfferReader {
	m := &MockOfferReader{offers: make(map[string]*models.Offer)}
	for _, o := range offers {
		m.offers[o.OfferID] = o
	}
	return m
}

func (m *MockOfferReader) GetByID(_ context.Context, offerID string) (*models.Offer, error) {
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.offers[offerID]
	if !ok {
		return nil, repository.ErrOfferNotFound
	}
	return o, nil
}

func (m *MockOfferReader) ListByMaker(_ context.Context, maker string, limit int) ([]*models.Offer, error) {
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Offer
	for _, o := range m.offers {
		if o.Maker == maker {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedSlot > out[j].UpdatedSlot })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MockEventReader журнал событий по офферам
type MockEventReader struct {
	events map[string][]*models.NormalizedEvent
	err    error
}

func (m *MockEventReader) ListByOffer(_ context.Context, offerID string) ([]*models.NormalizedEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.events[offerID], nil
}

// MockRebuilder считает вызовы; block задерживает завершение
type MockRebuilder struct {
	mu      sync.Mutex
	calls   int
	stats   projector.ReplayStats
	err     error
	block   chan struct{}
	started chan struct{}
}

func (m *MockRebuilder) RebuildOffers(ctx context.Context) (projector.ReplayStats, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.started != nil {
		close(m.started)
	}
	if m.block != nil {
		<-m.block
	}
	return m.stats, m.err
}

// MockAuditor возвращает заданные расхождения
type MockAuditor struct {
	drifts []projector.Drift
	err    error
}

func (m *MockAuditor) Run(context.Context) ([]projector.Drift, error) {
	return m.drifts, m.err
}

func testOffer(id, maker string, slot uint64) *models.Offer {
	return &models.Offer{
		OfferID:     id,
		Status:      models.OfferStatusOpen,
		Maker:       maker,
		MintA:       "MintA",
		MintB:       "MintB",
		AmountA:     "100",
		AmountB:     "200",
		CreatedSlot: slot,
		UpdatedSlot: slot,
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
		UpdatedAt:   time.Unix(1700000000, 0).UTC(),
	}
}
