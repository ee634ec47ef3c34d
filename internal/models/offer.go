package models

import "time"

// OfferStatus статус оффера в производном снимке
type OfferStatus string

const (
	OfferStatusOpen      OfferStatus = "Open"
	OfferStatusFilled    OfferStatus = "Filled"
	OfferStatusCancelled OfferStatus = "Cancelled"
)

// IsTerminal - конечный статус, дальнейшие переходы запрещены
func (s OfferStatus) IsTerminal() bool {
	return s == OfferStatusFilled || s == OfferStatusCancelled
}

// Offer текущий снимок оффера (таблица offers).
// Полностью восстанавливается из журнала событий.
type Offer struct {
	OfferID     string      `json:"offer_id" db:"offer_id"`
	Status      OfferStatus `json:"status" db:"status"`
	Maker       string      `json:"maker" db:"maker"`
	Taker       *string     `json:"taker" db:"taker"`
	MintA       string      `json:"mint_a" db:"mint_a"`
	MintB       string      `json:"mint_b" db:"mint_b"`
	AmountA     string      `json:"amount_a" db:"amount_a"`
	AmountB     string      `json:"amount_b" db:"amount_b"`
	CreatedSlot uint64      `json:"created_slot" db:"created_slot"`
	UpdatedSlot uint64      `json:"updated_slot" db:"updated_slot"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// NewOfferFromCreated строит снимок Open из события OfferCreated
func NewOfferFromCreated(ev *NormalizedEvent) *Offer {
	return &Offer{
		OfferID:     ev.OfferID,
		Status:      OfferStatusOpen,
		Maker:       ev.Maker,
		Taker:       ev.Taker,
		MintA:       ev.MintA,
		MintB:       ev.MintB,
		AmountA:     ev.AmountA,
		AmountB:     ev.AmountB,
		CreatedSlot: ev.Slot,
		UpdatedSlot: ev.Slot,
	}
}

// Transition применяет завершающее событие к копии снимка.
// Проверки допустимости делает вызывающий код.
func (o *Offer) Transition(ev *NormalizedEvent) *Offer {
	next := *o
	next.Status = ev.TargetStatus()
	next.UpdatedSlot = ev.Slot
	if ev.Taker != nil {
		next.Taker = ev.Taker
	}
	return &next
}

// SameState сравнивает снимки без служебных временных меток
func (o *Offer) SameState(other *Offer) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.OfferID == other.OfferID &&
		o.Status == other.Status &&
		o.Maker == other.Maker &&
		ptrEqual(o.Taker, other.Taker) &&
		o.MintA == other.MintA &&
		o.MintB == other.MintB &&
		o.AmountA == other.AmountA &&
		o.AmountB == other.AmountB &&
		o.CreatedSlot == other.CreatedSlot &&
		o.UpdatedSlot == other.UpdatedSlot
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
