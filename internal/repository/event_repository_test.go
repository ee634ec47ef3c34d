package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"escrowflow/internal/models"
)

func testEvent(id string, typ models.EventType, slot uint64) *models.NormalizedEvent {
	return &models.NormalizedEvent{
		EventID:    id,
		EventType:  typ,
		Cluster:    "localnet",
		Slot:       slot,
		Signature:  "sig",
		ProgramID:  "prog",
		OfferID:    "42",
		Maker:      "maker",
		MintA:      "mintA",
		MintB:      "mintB",
		AmountA:    "1000",
		AmountB:    "2000",
		Commitment: models.CommitmentFinalized,
		TsIngestMs: 1,
	}
}

func payloadOf(t *testing.T, ev *models.NormalizedEvent) []byte {
	t.Helper()
	data, err := models.EncodeEvent(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

// ============================================================
// EventRepository Tests
// ============================================================

func TestNewEventRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewEventRepository(db)
	if repo == nil {
		t.Fatal("NewEventRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestEventRepositoryAppend(t *testing.T) {
	ev := testEvent("sig:0:1", models.EventOfferCreated, 100)

	tests := []struct {
		name         string
		mockSetup    func(mock sqlmock.Sqlmock)
		wantInserted bool
		expectError  bool
	}{
		{
			name: "inserted",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO events .* ON CONFLICT \(event_id\) DO NOTHING`).
					WithArgs("sig:0:1", "OfferCreated", "sig", int64(100), "42", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantInserted: true,
		},
		{
			name: "duplicate is success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO events`).
					WithArgs("sig:0:1", "OfferCreated", "sig", int64(100), "42", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantInserted: false,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO events`).
					WillReturnError(errors.New("connection reset"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewEventRepository(db)
			inserted, err := repo.Append(context.Background(), ev)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if inserted != tt.wantInserted {
				t.Errorf("inserted = %v, want %v", inserted, tt.wantInserted)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEventRepositoryAppend_SlotOverflow(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	ev := testEvent("sig:0:1", models.EventOfferCreated, 1<<63)
	if _, err := NewEventRepository(db).Append(context.Background(), ev); err == nil {
		t.Error("expected error for slot beyond BIGINT")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query expected: %v", err)
	}
}

func TestEventRepositoryPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	created := testEvent("sig:0:1", models.EventOfferCreated, 100)
	filled := testEvent("sig2:0:4", models.EventOfferFilled, 120)

	mock.ExpectQuery(`SELECT payload_json FROM events ORDER BY slot, CASE event_type .* LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"payload_json"}).
			AddRow(payloadOf(t, created)).
			AddRow(payloadOf(t, filled)))

	mock.ExpectQuery(`WHERE \(slot, CASE event_type .*, event_id\) > \(\$1, \$2, \$3\)`).
		WithArgs(int64(120), 1, "sig2:0:4", 2).
		WillReturnRows(sqlmock.NewRows([]string{"payload_json"}))

	repo := NewEventRepository(db)

	page, err := repo.Page(context.Background(), ReplayCursor{}, 2)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(page) != 2 || page[0].EventID != "sig:0:1" || page[1].EventType != models.EventOfferFilled {
		t.Fatalf("unexpected first page: %+v", page)
	}

	next, err := repo.Page(context.Background(), CursorAfter(page[1]), 2)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(next) != 0 {
		t.Errorf("expected empty page, got %d", len(next))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventRepositoryPage_CorruptPayload(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(`SELECT payload_json`).
		WillReturnRows(sqlmock.NewRows([]string{"payload_json"}).AddRow([]byte(`{"event_id":""}`)))

	if _, err := NewEventRepository(db).Page(context.Background(), ReplayCursor{}, 10); err == nil {
		t.Error("expected decode error")
	}
}

func TestEventRepositoryListByOffer(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	ev := testEvent("sig:0:1", models.EventOfferCreated, 100)
	mock.ExpectQuery(`WHERE offer_id = \$1`).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"payload_json"}).AddRow(payloadOf(t, ev)))

	events, err := NewEventRepository(db).ListByOffer(context.Background(), "42")
	if err != nil {
		t.Fatalf("ListByOffer: %v", err)
	}
	if len(events) != 1 || events[0].OfferID != "42" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestEventRepositoryCount(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := NewEventRepository(db).Count(context.Background())
	if err != nil || n != 7 {
		t.Errorf("Count = %d, %v", n, err)
	}
}
