package projector

import (
	"context"
	"sort"
	"sync"

	"escrowflow/internal/models"
	"escrowflow/internal/repository"
)

// EventLog - append-only журнал событий
type EventLog interface {
	// Append возвращает false без ошибки, если event_id уже записан
	Append(ctx context.Context, ev *models.NormalizedEvent) (bool, error)
	// ListByOffer возвращает события оффера в порядке воспроизведения
	ListByOffer(ctx context.Context, offerID string) ([]*models.NormalizedEvent, error)
}

// EventPager читает журнал страницами в порядке воспроизведения
type EventPager interface {
	Page(ctx context.Context, after repository.ReplayCursor, limit int) ([]*models.NormalizedEvent, error)
}

// OfferStore - таблица снимков офферов
type OfferStore interface {
	Create(ctx context.Context, offer *models.Offer) (bool, error)
	// Transition - атомарное условное обновление: только из Open и только
	// если updated_slot <= slot. false, если условие не выполнено.
	Transition(ctx context.Context, offerID string, to models.OfferStatus, taker *string, slot uint64) (bool, error)
	// GetByID возвращает repository.ErrOfferNotFound, если снимка нет
	GetByID(ctx context.Context, offerID string) (*models.Offer, error)
}

// OfferLister перечисляет все снимки (сверка)
type OfferLister interface {
	ListAll(ctx context.Context) ([]*models.Offer, error)
}

var (
	_ EventLog    = (*repository.EventRepository)(nil)
	_ EventPager  = (*repository.EventRepository)(nil)
	_ OfferStore  = (*repository.OfferRepository)(nil)
	_ OfferLister = (*repository.OfferRepository)(nil)
)

// ============================================================
// In-memory реализации: тесты, сверка, локальный прогон
// ============================================================

// MemoryEventLog журнал событий в памяти с той же семантикой, что и таблица events
type MemoryEventLog struct {
	mu     sync.RWMutex
	events map[string]*models.NormalizedEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{events: make(map[string]*models.NormalizedEvent)}
}

func (l *MemoryEventLog) Append(_ context.Context, ev *models.NormalizedEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[ev.EventID]; ok {
		return false, nil
	}
	cp := *ev
	l.events[ev.EventID] = &cp
	return true, nil
}

func (l *MemoryEventLog) Page(_ context.Context, after repository.ReplayCursor, limit int) ([]*models.NormalizedEvent, error) {
	all := l.sorted()
	start := 0
	if !after.IsStart() {
		start = sort.Search(len(all), func(i int) bool {
			return cursorLess(after, repository.CursorAfter(all[i]))
		})
	}
	end := start + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (l *MemoryEventLog) ListByOffer(_ context.Context, offerID string) ([]*models.NormalizedEvent, error) {
	var out []*models.NormalizedEvent
	for _, ev := range l.sorted() {
		if ev.OfferID == offerID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Len число записанных событий
func (l *MemoryEventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *MemoryEventLog) sorted() []*models.NormalizedEvent {
	l.mu.RLock()
	all := make([]*models.NormalizedEvent, 0, len(l.events))
	for _, ev := range l.events {
		all = append(all, ev)
	}
	l.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return cursorLess(repository.CursorAfter(all[i]), repository.CursorAfter(all[j]))
	})
	return all
}

// cursorLess порядок воспроизведения: slot, создание раньше завершающих, event_id
func cursorLess(a, b repository.ReplayCursor) bool {
	if a.Slot != b.Slot {
		return a.Slot < b.Slot
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.EventID < b.EventID
}

// MemoryStore снимки офферов в памяти
type MemoryStore struct {
	mu     sync.RWMutex
	offers map[string]*models.Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]*models.Offer)}
}

func (s *MemoryStore) Create(_ context.Context, offer *models.Offer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offers[offer.OfferID]; ok {
		return false, nil
	}
	cp := *offer
	s.offers[offer.OfferID] = &cp
	return true, nil
}

func (s *MemoryStore) Transition(_ context.Context, offerID string, to models.OfferStatus, taker *string, slot uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok || o.Status != models.OfferStatusOpen || o.UpdatedSlot > slot {
		return false, nil
	}
	o.Status = to
	o.UpdatedSlot = slot
	if taker != nil {
		t := *taker
		o.Taker = &t
	}
	return true, nil
}

func (s *MemoryStore) GetByID(_ context.Context, offerID string) (*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[offerID]
	if !ok {
		return nil, repository.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferID < out[j].OfferID })
	return out, nil
}

// Reset очищает снимки
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = make(map[string]*models.Offer)
}
