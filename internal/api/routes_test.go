package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowflow/internal/models"
	"escrowflow/internal/projector"
	"escrowflow/pkg/crypto"
)

// routerFixture собирает роутер поверх настоящей проекции в памяти
type routerFixture struct {
	log    *projector.MemoryEventLog
	store  *projector.MemoryStore
	router http.Handler
}

type storeOffers struct{ *projector.MemoryStore }

func (s storeOffers) ListByMaker(ctx context.Context, maker string, limit int) ([]*models.Offer, error) {
	all, err := s.ListAll(ctx)
	var out []*models.Offer
	for _, o := range all {
		if o.Maker == maker && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, err
}

type rebuildFunc func(ctx context.Context) (projector.ReplayStats, error)

func (f rebuildFunc) RebuildOffers(ctx context.Context) (projector.ReplayStats, error) { return f(ctx) }

func newRouterFixture(t *testing.T, tokenHash string, burst int, health func(context.Context) error) *routerFixture {
	t.Helper()
	f := &routerFixture{log: projector.NewMemoryEventLog(), store: projector.NewMemoryStore()}

	view := projector.NewOfferView(f.store, func(context.Context) error {
		f.store.Reset()
		return nil
	})
	rebuild := rebuildFunc(func(ctx context.Context) (projector.ReplayStats, error) {
		return projector.Replay(ctx, f.log, 100, view)
	})

	f.router = SetupRoutes(&Dependencies{
		Offers:         storeOffers{f.store},
		Events:         f.log,
		Rebuilder:      rebuild,
		Auditor:        projector.NewAuditor(f.log, f.store, 100, nil),
		Health:         health,
		AdminTokenHash: tokenHash,
		RateLimit:      1000,
		RateBurst:      burst,
	})
	return f
}

func (f *routerFixture) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRoutes_EndToEnd(t *testing.T) {
	hash, err := crypto.HashToken("admin-token", 0)
	require.NoError(t, err)
	f := newRouterFixture(t, hash, 100, nil)

	ctx := context.Background()
	created := &models.NormalizedEvent{
		EventID: "SIGA:0:1", EventType: models.EventOfferCreated, Slot: 10, OfferID: "42",
		Maker: "M", MintA: "A", MintB: "B", AmountA: "1", AmountB: "2",
		Commitment: models.CommitmentFinalized,
	}
	_, err = f.log.Append(ctx, created)
	require.NoError(t, err)

	// снимка ещё нет: журнал не воспроизведён
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/offers/42", "").Code)

	// сверка видит расхождение
	w := f.do(http.MethodPost, "/api/v1/admin/audit", "admin-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"consistent":false`)

	// перестроение требует токен
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/v1/admin/replay", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/v1/admin/replay", "wrong").Code)

	w = f.do(http.MethodPost, "/api/v1/admin/replay", "admin-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events":1`)

	w = f.do(http.MethodGet, "/api/v1/offers/42", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"Open"`)

	w = f.do(http.MethodGet, "/api/v1/offers/42/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"event_id":"SIGA:0:1"`)

	w = f.do(http.MethodPost, "/api/v1/admin/audit", "admin-token")
	assert.Contains(t, w.Body.String(), `"consistent":true`)

	// GET на admin-маршрут не зарегистрирован; вложенный subrouter mux отвечает 404
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/admin/replay", "admin-token").Code)
}

func TestRoutes_AdminDisabledWithoutHash(t *testing.T) {
	f := newRouterFixture(t, "", 100, nil)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/admin/replay", "anything").Code)
}

func TestRoutes_RateLimited(t *testing.T) {
	f := newRouterFixture(t, "", 1, nil)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/offers/1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, "/api/v1/offers/1", "").Code)

	// /health вне лимита
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
}

func TestRoutes_Health(t *testing.T) {
	up := newRouterFixture(t, "", 10, func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, up.do(http.MethodGet, "/health", "").Code)

	down := newRouterFixture(t, "", 10, func(context.Context) error { return errors.New("db down") })
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health", "").Code)
}
