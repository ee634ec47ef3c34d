package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"escrowflow/internal/models"
)

// Ошибки репозитория офферов
var (
	ErrOfferNotFound = errors.New("offer not found")
)

const offerColumns = `offer_id, status, maker, taker, mint_a, mint_b, amount_a, amount_b, created_slot, updated_slot, created_at, updated_at`

// OfferRepository - текущие снимки офферов (таблица offers).
// Производная таблица: перестраивается из журнала событий.
type OfferRepository struct {
	db DBTX
}

// NewOfferRepository создает новый экземпляр репозитория
func NewOfferRepository(db DBTX) *OfferRepository {
	return &OfferRepository{db: db}
}

// Create вставляет снимок, если его ещё нет. Повторное создание - no-op (false, nil).
func (r *OfferRepository) Create(ctx context.Context, offer *models.Offer) (bool, error) {
	createdSlot, err := slotToDB(offer.CreatedSlot)
	if err != nil {
		return false, err
	}
	updatedSlot, err := slotToDB(offer.UpdatedSlot)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO offers (offer_id, status, maker, taker, mint_a, mint_b, amount_a, amount_b, created_slot, updated_slot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (offer_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		offer.OfferID,
		string(offer.Status),
		offer.Maker,
		offer.Taker,
		offer.MintA,
		offer.MintB,
		offer.AmountA,
		offer.AmountB,
		createdSlot,
		updatedSlot,
	)
	if err != nil {
		return false, fmt.Errorf("insert offer %s: %w", offer.OfferID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert offer %s: %w", offer.OfferID, err)
	}
	return rows == 1, nil
}

// Transition переводит открытый оффер в конечный статус одним условным UPDATE.
// Обновление проходит только если оффер Open и updated_slot <= slot;
// иначе возвращается (false, nil), и причину выясняет вызывающий код.
func (r *OfferRepository) Transition(ctx context.Context, offerID string, to models.OfferStatus, taker *string, slot uint64) (bool, error) {
	dbSlot, err := slotToDB(slot)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE offers
		SET status = $2, taker = COALESCE($3, taker), updated_slot = $4, updated_at = NOW()
		WHERE offer_id = $1 AND status = 'Open' AND updated_slot <= $4`

	result, err := r.db.ExecContext(ctx, query, offerID, string(to), taker, dbSlot)
	if err != nil {
		return false, fmt.Errorf("transition offer %s: %w", offerID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition offer %s: %w", offerID, err)
	}
	return rows == 1, nil
}

// GetByID возвращает снимок оффера
func (r *OfferRepository) GetByID(ctx context.Context, offerID string) (*models.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE offer_id = $1`

	offer, err := scanOffer(r.db.QueryRowContext(ctx, query, offerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("get offer %s: %w", offerID, err)
	}
	return offer, nil
}

// ListByMaker возвращает офферы мейкера, свежие первыми
func (r *OfferRepository) ListByMaker(ctx context.Context, maker string, limit int) ([]*models.Offer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE maker = $1
		ORDER BY updated_slot DESC, offer_id
		LIMIT $2`
	return r.queryOffers(ctx, query, maker, limit)
}

// ListAll возвращает все снимки (для сверки с журналом)
func (r *OfferRepository) ListAll(ctx context.Context) ([]*models.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers ORDER BY offer_id`
	return r.queryOffers(ctx, query)
}

// Truncate очищает таблицу перед перестроением.
// Внутри транзакции блокирует таблицу до commit.
func (r *OfferRepository) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE TABLE offers`); err != nil {
		return fmt.Errorf("truncate offers: %w", err)
	}
	return nil
}

func (r *OfferRepository) queryOffers(ctx context.Context, query string, args ...interface{}) ([]*models.Offer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return offers, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row rowScanner) (*models.Offer, error) {
	var (
		o           models.Offer
		status      string
		taker       sql.NullString
		createdSlot int64
		updatedSlot int64
	)

	err := row.Scan(
		&o.OfferID,
		&status,
		&o.Maker,
		&taker,
		&o.MintA,
		&o.MintB,
		&o.AmountA,
		&o.AmountB,
		&createdSlot,
		&updatedSlot,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = models.OfferStatus(status)
	if taker.Valid {
		o.Taker = models.StringPtr(taker.String)
	}
	o.CreatedSlot = uint64(createdSlot)
	o.UpdatedSlot = uint64(updatedSlot)
	return &o, nil
}
