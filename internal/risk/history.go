package risk

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"escrowflow/internal/models"
)

// HistoryView недавние события, доступные правилам только на чтение.
// Срезы возвращаются копиями, от старых к новым.
type HistoryView interface {
	MakerEvents(maker string) []*models.NormalizedEvent
	OfferEvents(offerID string) []*models.NormalizedEvent
}

// History ограниченная история по maker и offer_id.
// Число ключей ограничено LRU, глубина по ключу - depth последних событий.
// Повторная доставка того же event_id историю не меняет.
type History struct {
	mu     sync.Mutex
	depth  int
	makers *simplelru.LRU[string, []*models.NormalizedEvent]
	offers *simplelru.LRU[string, []*models.NormalizedEvent]
	seen   *simplelru.LRU[string, struct{}]
}

// NewHistory создает историю на keys ключей глубиной depth
func NewHistory(keys, depth int) *History {
	if keys <= 0 {
		keys = 10000
	}
	if depth <= 0 {
		depth = 64
	}
	makers, _ := simplelru.NewLRU[string, []*models.NormalizedEvent](keys, nil)
	offers, _ := simplelru.NewLRU[string, []*models.NormalizedEvent](keys, nil)
	seen, _ := simplelru.NewLRU[string, struct{}](keys*depth, nil)
	return &History{depth: depth, makers: makers, offers: offers, seen: seen}
}

// Record добавляет событие; false - event_id уже был записан
func (h *History) Record(ev *models.NormalizedEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.seen.Contains(ev.EventID) {
		return false
	}
	h.seen.Add(ev.EventID, struct{}{})
	h.push(h.makers, ev.Maker, ev)
	h.push(h.offers, ev.OfferID, ev)
	return true
}

func (h *History) push(cache *simplelru.LRU[string, []*models.NormalizedEvent], key string, ev *models.NormalizedEvent) {
	events, _ := cache.Get(key)
	events = append(events, ev)
	if len(events) > h.depth {
		events = append([]*models.NormalizedEvent(nil), events[len(events)-h.depth:]...)
	}
	cache.Add(key, events)
}

func (h *History) MakerEvents(maker string) []*models.NormalizedEvent {
	return h.snapshot(h.makers, maker)
}

func (h *History) OfferEvents(offerID string) []*models.NormalizedEvent {
	return h.snapshot(h.offers, offerID)
}

func (h *History) snapshot(cache *simplelru.LRU[string, []*models.NormalizedEvent], key string) []*models.NormalizedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events, ok := cache.Peek(key)
	if !ok {
		return nil
	}
	return append([]*models.NormalizedEvent(nil), events...)
}
