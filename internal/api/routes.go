package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"escrowflow/internal/api/handlers"
	"escrowflow/internal/api/middleware"
	"escrowflow/pkg/ratelimit"
	"escrowflow/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Offers    handlers.OfferReader
	Events    handlers.EventReader
	Rebuilder handlers.Rebuilder
	Auditor   handlers.Auditor
	// Health проверяет хранилище для /health; nil - всегда UP
	Health func(ctx context.Context) error

	AdminTokenHash string
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string

	Logger *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты API чтения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /offers/
//	│   ├── GET ?maker=&limit= - снимки мейкера
//	│   ├── GET /{id} - снимок оффера
//	│   └── GET /{id}/events - журнал оффера
//	└── /admin/ (Bearer токен)
//	    ├── POST /replay - перестроение offers из журнала
//	    └── POST /audit - сверка offers с журналом
//
// /health
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. RateLimit (/api/v1)
// 5. AdminAuth (только /api/v1/admin)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RateLimit(ratelimit.NewClientLimiter(deps.RateLimit, deps.RateBurst, 0)))

	if deps.Offers != nil && deps.Events != nil {
		offerHandler := handlers.NewOfferHandler(deps.Offers, deps.Events, deps.Logger)
		api.HandleFunc("/offers", offerHandler.ListOffers).Methods("GET")
		api.HandleFunc("/offers/{id}", offerHandler.GetOffer).Methods("GET")
		api.HandleFunc("/offers/{id}/events", offerHandler.ListOfferEvents).Methods("GET")
	}

	if deps.Rebuilder != nil && deps.Auditor != nil {
		adminHandler := handlers.NewAdminHandler(deps.Rebuilder, deps.Auditor, deps.Logger)
		admin := api.PathPrefix("/admin").Subrouter()
		admin.Use(middleware.AdminAuth(deps.AdminTokenHash))
		admin.HandleFunc("/replay", adminHandler.Replay).Methods("POST")
		admin.HandleFunc("/audit", adminHandler.Audit).Methods("POST")
	}

	router.HandleFunc("/health", healthHandler(deps.Health)).Methods("GET")

	return router
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				http.Error(w, "DOWN", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
