package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/mr-tron/base58"

	"escrowflow/internal/models"
)

var (
	makerA = base58.Encode(bytes.Repeat([]byte{1}, 32))
	makerB = base58.Encode(bytes.Repeat([]byte{2}, 32))
)

func withID(req *http.Request, id string) *http.Request {
	return mux.SetURLVars(req, map[string]string{"id": id})
}

// ============ GetOffer ============

func TestOfferHandler_GetOffer(t *testing.T) {
	t.Run("returns snapshot", func(t *testing.T) {
		h := NewOfferHandler(NewMockOfferReader(testOffer("42", makerA, 10)), &MockEventReader{}, nil)

		w := httptest.NewRecorder()
		h.GetOffer(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/offers/42", nil), "42"))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var offer models.Offer
		if err := json.NewDecoder(w.Body).Decode(&offer); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if offer.OfferID != "42" || offer.Status != models.OfferStatusOpen {
			t.Errorf("unexpected offer %+v", offer)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
	})

	t.Run("unknown offer is 404", func(t *testing.T) {
		h := NewOfferHandler(NewMockOfferReader(), &MockEventReader{}, nil)

		w := httptest.NewRecorder()
		h.GetOffer(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/offers/7", nil), "7"))

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
		var resp ErrorResponse
		_ = json.NewDecoder(w.Body).Decode(&resp)
		if resp.Code != CodeNotFound {
			t.Errorf("expected code %s, got %s", CodeNotFound, resp.Code)
		}
	})

	t.Run("storage error is 500", func(t *testing.T) {
		reader := NewMockOfferReader()
		reader.err = errStorage
		h := NewOfferHandler(reader, &MockEventReader{}, nil)

		w := httptest.NewRecorder()
		h.GetOffer(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/offers/7", nil), "7"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
		if bytes.Contains(w.Body.Bytes(), []byte(errStorage.Error())) {
			t.Error("внутренняя ошибка не должна утекать клиенту")
		}
	})
}

// ============ ListOffers ============

func TestOfferHandler_ListOffers(t *testing.T) {
	reader := NewMockOfferReader(
		testOffer("1", makerA, 10),
		testOffer("2", makerA, 30),
		testOffer("3", makerA, 20),
		testOffer("4", makerB, 40),
	)
	h := NewOfferHandler(reader, &MockEventReader{}, nil)

	t.Run("filters by maker, newest first", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListOffers(w, httptest.NewRequest(http.MethodGet, "/api/v1/offers?maker="+makerA, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var resp ListOffersResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Total != 3 {
			t.Fatalf("expected total 3, got %d", resp.Total)
		}
		want := []string{"2", "3", "1"}
		for i, id := range want {
			if resp.Offers[i].OfferID != id {
				t.Errorf("offers[%d] = %s, want %s", i, resp.Offers[i].OfferID, id)
			}
		}
	})

	t.Run("limit is clamped", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListOffers(w, httptest.NewRequest(http.MethodGet, "/api/v1/offers?maker="+makerA+"&limit=100000", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if got := reader.limits[len(reader.limits)-1]; got != maxListLimit {
			t.Errorf("limit = %d, want %d", got, maxListLimit)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListOffers(w, httptest.NewRequest(http.MethodGet, "/api/v1/offers?maker="+makerB, nil))

		if got := reader.limits[len(reader.limits)-1]; got != defaultListLimit {
			t.Errorf("limit = %d, want %d", got, defaultListLimit)
		}
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		stranger := base58.Encode(bytes.Repeat([]byte{9}, 32))
		w := httptest.NewRecorder()
		h.ListOffers(w, httptest.NewRequest(http.MethodGet, "/api/v1/offers?maker="+stranger, nil))

		if !bytes.Contains(w.Body.Bytes(), []byte(`"offers":[]`)) {
			t.Errorf("ожидался пустой массив, получено %s", w.Body.String())
		}
	})

	badQueries := []struct {
		name  string
		query string
	}{
		{"missing maker", "/api/v1/offers"},
		{"invalid maker", "/api/v1/offers?maker=0OIl"},
		{"zero limit", "/api/v1/offers?maker=" + makerA + "&limit=0"},
		{"non numeric limit", "/api/v1/offers?maker=" + makerA + "&limit=ten"},
	}
	for _, tt := range badQueries {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ListOffers(w, httptest.NewRequest(http.MethodGet, tt.query, nil))

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

// ============ ListOfferEvents ============

func TestOfferHandler_ListOfferEvents(t *testing.T) {
	events := &MockEventReader{events: map[string][]*models.NormalizedEvent{
		"42": {
			{EventID: "S1:0:1", EventType: models.EventOfferCreated, OfferID: "42", Slot: 10},
			{EventID: "S2:0:1", EventType: models.EventOfferFilled, OfferID: "42", Slot: 12},
		},
	}}
	h := NewOfferHandler(NewMockOfferReader(), events, nil)

	t.Run("returns events in log order", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListOfferEvents(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/offers/42/events", nil), "42"))

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var resp ListEventsResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Total != 2 || resp.Events[0].EventID != "S1:0:1" || resp.Events[1].EventID != "S2:0:1" {
			t.Errorf("unexpected events %+v", resp)
		}
	})

	t.Run("offer without events", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListOfferEvents(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/offers/1/events", nil), "1"))

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if !bytes.Contains(w.Body.Bytes(), []byte(`"events":[]`)) {
			t.Errorf("ожидался пустой массив, получено %s", w.Body.String())
		}
	})

	t.Run("storage error", func(t *testing.T) {
		broken := NewOfferHandler(NewMockOfferReader(), &MockEventReader{err: errStorage}, nil)
		w := httptest.NewRecorder()
		broken.ListOfferEvents(w, withID(httptest.NewRequest(http.MethodGet, "/api/v1/offers/1/events", nil), "1"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
