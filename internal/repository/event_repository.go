package repository

import (
	"context"
	"fmt"
	"math"

	"escrowflow/internal/models"
)

// ReplayCursor позиция в журнале в порядке воспроизведения
// (slot, создание раньше завершающих, event_id). Нулевое значение - начало журнала.
type ReplayCursor struct {
	Slot    uint64
	Rank    int
	EventID string
	started bool
}

// CursorAfter курсор, указывающий сразу за событием ev
func CursorAfter(ev *models.NormalizedEvent) ReplayCursor {
	return ReplayCursor{Slot: ev.Slot, Rank: ev.EventType.ReplayRank(), EventID: ev.EventID, started: true}
}

// IsStart - курсор указывает на начало журнала
func (c ReplayCursor) IsStart() bool {
	return !c.started
}

const replayRankSQL = `CASE event_type WHEN 'OfferCreated' THEN 0 ELSE 1 END`

// EventRepository - журнал событий (таблица events), append-only
type EventRepository struct {
	db DBTX
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Append добавляет событие в журнал. Повторная вставка того же event_id -
// успешный no-op: возвращается inserted=false без ошибки.
func (r *EventRepository) Append(ctx context.Context, ev *models.NormalizedEvent) (bool, error) {
	slot, err := slotToDB(ev.Slot)
	if err != nil {
		return false, err
	}

	payload, err := models.EncodeEvent(ev)
	if err != nil {
		return false, fmt.Errorf("encode event %s: %w", ev.EventID, err)
	}

	query := `
		INSERT INTO events (event_id, event_type, signature, slot, offer_id, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		ev.EventID,
		string(ev.EventType),
		ev.Signature,
		slot,
		ev.OfferID,
		payload,
	)
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}
	return rows == 1, nil
}

// Page возвращает до limit событий строго после курсора в порядке воспроизведения
func (r *EventRepository) Page(ctx context.Context, after ReplayCursor, limit int) ([]*models.NormalizedEvent, error) {
	if after.IsStart() {
		query := `
			SELECT payload_json
			FROM events
			ORDER BY slot, ` + replayRankSQL + `, event_id
			LIMIT $1`
		return r.queryEvents(ctx, query, limit)
	}

	slot, err := slotToDB(after.Slot)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT payload_json
		FROM events
		WHERE (slot, ` + replayRankSQL + `, event_id) > ($1, $2, $3)
		ORDER BY slot, ` + replayRankSQL + `, event_id
		LIMIT $4`
	return r.queryEvents(ctx, query, slot, after.Rank, after.EventID, limit)
}

// ListByOffer возвращает события оффера в порядке воспроизведения
func (r *EventRepository) ListByOffer(ctx context.Context, offerID string) ([]*models.NormalizedEvent, error) {
	query := `
		SELECT payload_json
		FROM events
		WHERE offer_id = $1
		ORDER BY slot, ` + replayRankSQL + `, event_id`
	return r.queryEvents(ctx, query, offerID)
}

// Count возвращает число событий в журнале
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.NormalizedEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*models.NormalizedEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := models.DecodeEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("decode stored event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func slotToDB(slot uint64) (int64, error) {
	if slot > math.MaxInt64 {
		return 0, fmt.Errorf("slot %d exceeds BIGINT range", slot)
	}
	return int64(slot), nil
}
