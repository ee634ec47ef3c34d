package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"escrowflow/internal/config"
)

// DBTX общий интерфейс *sql.DB и *sql.Tx: репозитории работают с обоими
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open открывает пул соединений PostgreSQL и проверяет доступность
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Store связывает репозитории с пулом и даёт транзакционный доступ к ним
type Store struct {
	db     *sql.DB
	Events *EventRepository
	Offers *OfferRepository
}

// NewStore создает репозитории поверх пула
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		Events: NewEventRepository(db),
		Offers: NewOfferRepository(db),
	}
}

// InTx выполняет fn в одной транзакции с репозиториями, привязанными к ней.
// Ошибка fn откатывает транзакцию.
func (s *Store) InTx(ctx context.Context, fn func(events *EventRepository, offers *OfferRepository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(NewEventRepository(tx), NewOfferRepository(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping проверяет доступность базы (для /healthz)
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
