package handlers

import (
	"context"
	"net/http"
	"sync/atomic"

	"escrowflow/internal/models"
	"escrowflow/internal/projector"
	"escrowflow/pkg/utils"
)

// Rebuilder перестраивает таблицу offers из журнала (projector.Rebuilder)
type Rebuilder interface {
	RebuildOffers(ctx context.Context) (projector.ReplayStats, error)
}

// Auditor сверяет offers с журналом (projector.Auditor)
type Auditor interface {
	Run(ctx context.Context) ([]projector.Drift, error)
}

// AdminHandler административные операции над производными таблицами.
// Одновременно выполняется не больше одной операции: повторный запрос
// во время работы получает 409.
//
// Endpoints (за AdminAuth):
// - POST /api/v1/admin/replay - полное перестроение offers
// - POST /api/v1/admin/audit - сверка offers с журналом
type AdminHandler struct {
	rebuilder Rebuilder
	auditor   Auditor
	busy      atomic.Bool
	logger    *utils.Logger
}

// NewAdminHandler создает AdminHandler
func NewAdminHandler(rebuilder Rebuilder, auditor Auditor, logger *utils.Logger) *AdminHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &AdminHandler{rebuilder: rebuilder, auditor: auditor, logger: logger.WithComponent("api")}
}

// ReplayResponse итог перестроения
type ReplayResponse struct {
	Events     int            `json:"events"`
	MaxSlot    uint64         `json:"max_slot"`
	Outcomes   map[string]int `json:"outcomes"`
	DurationMs int64          `json:"duration_ms"`
}

// DriftDTO расхождение снимка с журналом.
// expected = null: снимка быть не должно; actual = null: снимок отсутствует.
type DriftDTO struct {
	OfferID  string        `json:"offer_id"`
	Expected *models.Offer `json:"expected"`
	Actual   *models.Offer `json:"actual"`
}

// AuditResponse итог сверки
type AuditResponse struct {
	Consistent bool       `json:"consistent"`
	Drifts     []DriftDTO `json:"drifts"`
}

// Replay перестраивает offers из журнала в одной транзакции
//
// POST /api/v1/admin/replay
//
// HTTP коды:
// - 200 OK: статистика перестроения
// - 409 Conflict: уже выполняется другая операция
// - 500 Internal Server Error: транзакция откатана, таблица не изменилась
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if !h.busy.CompareAndSwap(false, true) {
		respondWithError(w, http.StatusConflict, CodeBusy, "another admin operation is running", "")
		return
	}
	defer h.busy.Store(false)

	h.logger.Warn("offers rebuild requested", utils.String("client", r.RemoteAddr))

	// перестроение не прерывается обрывом соединения клиента
	stats, err := h.rebuilder.RebuildOffers(context.WithoutCancel(r.Context()))
	if err != nil {
		h.logger.Error("offers rebuild failed", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "rebuild failed", err.Error())
		return
	}

	outcomes := make(map[string]int, len(stats.Outcomes))
	for o, n := range stats.Outcomes {
		outcomes[string(o)] = n
	}
	respondWithJSON(w, http.StatusOK, ReplayResponse{
		Events:     stats.Events,
		MaxSlot:    stats.MaxSlot,
		Outcomes:   outcomes,
		DurationMs: stats.Duration.Milliseconds(),
	})
}

// Audit запускает сверку немедленно
//
// POST /api/v1/admin/audit
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if !h.busy.CompareAndSwap(false, true) {
		respondWithError(w, http.StatusConflict, CodeBusy, "another admin operation is running", "")
		return
	}
	defer h.busy.Store(false)

	drifts, err := h.auditor.Run(r.Context())
	if err != nil {
		h.logger.Error("audit failed", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "audit failed", err.Error())
		return
	}

	resp := AuditResponse{Consistent: len(drifts) == 0, Drifts: make([]DriftDTO, 0, len(drifts))}
	for _, d := range drifts {
		resp.Drifts = append(resp.Drifts, DriftDTO{OfferID: d.OfferID, Expected: d.Expected, Actual: d.Actual})
	}
	respondWithJSON(w, http.StatusOK, resp)
}
