package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"escrowflow/internal/models"
	"escrowflow/internal/repository"
	"escrowflow/pkg/utils"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// OfferReader - чтение снимков (repository.OfferRepository)
type OfferReader interface {
	GetByID(ctx context.Context, offerID string) (*models.Offer, error)
	ListByMaker(ctx context.Context, maker string, limit int) ([]*models.Offer, error)
}

// EventReader - чтение журнала (repository.EventRepository)
type EventReader interface {
	ListByOffer(ctx context.Context, offerID string) ([]*models.NormalizedEvent, error)
}

// OfferHandler отдаёт снимки офферов и их журнал событий
//
// Endpoints:
// - GET /api/v1/offers/{id} - текущий снимок
// - GET /api/v1/offers?maker=<pubkey>&limit=50 - снимки мейкера, свежие первыми
// - GET /api/v1/offers/{id}/events - события оффера в порядке воспроизведения
type OfferHandler struct {
	offers OfferReader
	events EventReader
	logger *utils.Logger
}

// NewOfferHandler создает OfferHandler с внедрением зависимостей
func NewOfferHandler(offers OfferReader, events EventReader, logger *utils.Logger) *OfferHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &OfferHandler{offers: offers, events: events, logger: logger.WithComponent("api")}
}

// ListOffersResponse ответ списка офферов
type ListOffersResponse struct {
	Offers []*models.Offer `json:"offers"`
	Total  int             `json:"total"`
}

// ListEventsResponse ответ журнала оффера
type ListEventsResponse struct {
	OfferID string                    `json:"offer_id"`
	Events  []*models.NormalizedEvent `json:"events"`
	Total   int                       `json:"total"`
}

// GetOffer возвращает снимок оффера
//
// GET /api/v1/offers/{id}
//
// HTTP коды:
// - 200 OK: снимок
// - 404 Not Found: снимка нет (оффер неизвестен или ещё не спроецирован)
// - 500 Internal Server Error: ошибка хранилища
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offerID := mux.Vars(r)["id"]

	offer, err := h.offers.GetByID(r.Context(), offerID)
	if errors.Is(err, repository.ErrOfferNotFound) {
		respondWithError(w, http.StatusNotFound, CodeNotFound, "offer not found", offerID)
		return
	}
	if err != nil {
		h.logger.Error("get offer failed", utils.OfferID(offerID), utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to load offer", "")
		return
	}

	respondWithJSON(w, http.StatusOK, offer)
}

// ListOffers возвращает снимки мейкера, упорядоченные по updated_slot DESC
//
// GET /api/v1/offers?maker=<pubkey>&limit=<n>
//
// Query параметры:
// - maker (string, обязательный): base58 pubkey мейкера
// - limit (int): по умолчанию 100, максимум 500
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	maker := query.Get("maker")
	if err := utils.ValidatePubkey(maker); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeInvalidQuery, "maker must be a base58 pubkey", err.Error())
		return
	}

	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, CodeInvalidQuery, "limit must be a positive integer", raw)
			return
		}
		limit = min(n, maxListLimit)
	}

	offers, err := h.offers.ListByMaker(r.Context(), maker, limit)
	if err != nil {
		h.logger.Error("list offers failed", utils.Maker(maker), utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to list offers", "")
		return
	}
	if offers == nil {
		offers = []*models.Offer{}
	}

	respondWithJSON(w, http.StatusOK, ListOffersResponse{Offers: offers, Total: len(offers)})
}

// ListOfferEvents возвращает строки журнала оффера в порядке воспроизведения.
// Журнал может содержать события оффера без снимка (сироты), поэтому
// пустой список - это 200, а не 404.
//
// GET /api/v1/offers/{id}/events
func (h *OfferHandler) ListOfferEvents(w http.ResponseWriter, r *http.Request) {
	offerID := mux.Vars(r)["id"]

	events, err := h.events.ListByOffer(r.Context(), offerID)
	if err != nil {
		h.logger.Error("list offer events failed", utils.OfferID(offerID), utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to list events", "")
		return
	}
	if events == nil {
		events = []*models.NormalizedEvent{}
	}

	respondWithJSON(w, http.StatusOK, ListEventsResponse{OfferID: offerID, Events: events, Total: len(events)})
}
