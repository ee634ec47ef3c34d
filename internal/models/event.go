package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventType тип доменного события эскроу-контракта
type EventType string

const (
	EventOfferCreated   EventType = "OfferCreated"
	EventOfferFilled    EventType = "OfferFilled"
	EventOfferCancelled EventType = "OfferCancelled"
)

// Valid сообщает, известен ли тип события
func (t EventType) Valid() bool {
	switch t {
	case EventOfferCreated, EventOfferFilled, EventOfferCancelled:
		return true
	}
	return false
}

// IsTerminal - событие переводит оффер в конечное состояние
func (t EventType) IsTerminal() bool {
	return t == EventOfferFilled || t == EventOfferCancelled
}

// ReplayRank порядок внутри одного слота при воспроизведении:
// создание раньше завершающих событий
func (t EventType) ReplayRank() int {
	if t == EventOfferCreated {
		return 0
	}
	return 1
}

// Commitment уровень подтверждения, на котором цепочка сообщила о событии
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment разбирает уровень подтверждения (регистр не важен)
func ParseCommitment(s string) (Commitment, error) {
	c := Commitment(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return c, nil
	}
	return "", fmt.Errorf("unknown commitment %q", s)
}

// IsFinal - событие больше не может быть откачено
func (c Commitment) IsFinal() bool {
	return c == CommitmentFinalized
}

// NormalizedEvent каноническое событие в шине escrow.events.v1.
// Суммы - u64 в десятичной записи.
type NormalizedEvent struct {
	EventID    string     `json:"event_id"`
	EventType  EventType  `json:"event_type"`
	Cluster    string     `json:"cluster"`
	Slot       uint64     `json:"slot"`
	Signature  string     `json:"signature"`
	ProgramID  string     `json:"program_id"`
	OfferID    string     `json:"offer_id"`
	Maker      string     `json:"maker"`
	Taker      *string    `json:"taker"`
	MintA      string     `json:"mint_a"`
	MintB      string     `json:"mint_b"`
	AmountA    string     `json:"amount_a"`
	AmountB    string     `json:"amount_b"`
	Commitment Commitment `json:"commitment"`
	TsIngestMs int64      `json:"ts_ingest_ms"`
}

var (
	ErrInvalidEventID = errors.New("invalid event id")
	ErrInvalidEvent   = errors.New("invalid event")
)

// BuildEventID собирает идентификатор события signature:instruction_index:log_index.
// Он одинаков на всех уровнях подтверждения.
func BuildEventID(signature string, instructionIndex, logIndex uint32) string {
	return signature + ":" + strconv.FormatUint(uint64(instructionIndex), 10) + ":" + strconv.FormatUint(uint64(logIndex), 10)
}

// ParseEventID разбирает идентификатор, собранный BuildEventID
func ParseEventID(id string) (signature string, instructionIndex, logIndex uint32, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidEventID, id)
	}
	ix, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: instruction index %q", ErrInvalidEventID, parts[1])
	}
	li, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: log index %q", ErrInvalidEventID, parts[2])
	}
	return parts[0], uint32(ix), uint32(li), nil
}

// Validate проверяет обязательные поля события, пришедшего из шины
func (e *NormalizedEvent) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: empty event_id", ErrInvalidEvent)
	case !e.EventType.Valid():
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidEvent, e.EventType)
	case e.OfferID == "":
		return fmt.Errorf("%w: empty offer_id", ErrInvalidEvent)
	case e.Maker == "":
		return fmt.Errorf("%w: empty maker", ErrInvalidEvent)
	}
	if _, err := strconv.ParseUint(e.AmountA, 10, 64); err != nil {
		return fmt.Errorf("%w: amount_a %q", ErrInvalidEvent, e.AmountA)
	}
	if _, err := strconv.ParseUint(e.AmountB, 10, 64); err != nil {
		return fmt.Errorf("%w: amount_b %q", ErrInvalidEvent, e.AmountB)
	}
	return nil
}

// TargetStatus статус, в который событие переводит оффер
func (e *NormalizedEvent) TargetStatus() OfferStatus {
	switch e.EventType {
	case EventOfferFilled:
		return OfferStatusFilled
	case EventOfferCancelled:
		return OfferStatusCancelled
	default:
		return OfferStatusOpen
	}
}

// TakerOrEmpty возвращает taker или пустую строку
func (e *NormalizedEvent) TakerOrEmpty() string {
	if e.Taker == nil {
		return ""
	}
	return *e.Taker
}

// StringPtr хелпер для nullable полей
func StringPtr(s string) *string {
	return &s
}
