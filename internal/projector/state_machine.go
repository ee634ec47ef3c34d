package projector

import "escrowflow/internal/models"

// Outcome результат применения события к снимку оффера
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeTransitioned    Outcome = "transitioned"
	OutcomeDuplicateCreate Outcome = "duplicate_create"
	OutcomeAlreadyTerminal Outcome = "already_terminal"
	OutcomeStale           Outcome = "stale"
	OutcomeOrphan          Outcome = "orphan"
)

// Mutates - исход меняет снимок
func (o Outcome) Mutates() bool {
	return o == OutcomeCreated || o == OutcomeTransitioned
}

// ValidTransitions определяет допустимые переходы статуса оффера.
// Filled и Cancelled конечные.
var ValidTransitions = map[models.OfferStatus][]models.OfferStatus{
	models.OfferStatusOpen:      {models.OfferStatusFilled, models.OfferStatusCancelled},
	models.OfferStatusFilled:    {},
	models.OfferStatusCancelled: {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.OfferStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Decision исход и новый снимок (nil, если снимок не меняется)
type Decision struct {
	Outcome Outcome
	Next    *models.Offer
}

// Decide применяет таблицу переходов к текущему снимку (nil - снимка нет).
// Чистая функция: одна и та же для живой обработки, воспроизведения и сверки.
func Decide(current *models.Offer, ev *models.NormalizedEvent) Decision {
	if ev.EventType == models.EventOfferCreated {
		if current != nil {
			return Decision{Outcome: OutcomeDuplicateCreate}
		}
		return Decision{Outcome: OutcomeCreated, Next: models.NewOfferFromCreated(ev)}
	}

	switch {
	case current == nil:
		return Decision{Outcome: OutcomeOrphan}
	case current.Status.IsTerminal():
		return Decision{Outcome: OutcomeAlreadyTerminal}
	case ev.Slot < current.UpdatedSlot:
		return Decision{Outcome: OutcomeStale}
	case !CanTransition(current.Status, ev.TargetStatus()):
		return Decision{Outcome: OutcomeAlreadyTerminal}
	}
	return Decision{Outcome: OutcomeTransitioned, Next: current.Transition(ev)}
}
