package svc

import (
	"net/http"

	"github.com/gorilla/mux"

	"escrowflow/internal/websocket"
)

// newStreamMux маршруты сервера нотификатора: /ws/stream и /health
func newStreamMux(hub *websocket.Hub, origins *websocket.OriginChecker) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws/stream", hub.Handler(origins)).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")
	return router
}
