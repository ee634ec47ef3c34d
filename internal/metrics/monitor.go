package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowflow/pkg/utils"
)

// HealthCheck проверка зависимости для /healthz
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// MonitorServer отдаёт /metrics и /healthz на отдельном порту
type MonitorServer struct {
	port   int
	checks []HealthCheck
	server *http.Server
}

func NewMonitorServer(port int, checks ...HealthCheck) *MonitorServer {
	m := &MonitorServer{port: port, checks: checks}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", m.handleHealth)

	m.server = &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m
}

// Handler для тестов и встраивания
func (m *MonitorServer) Handler() http.Handler {
	return m.server.Handler
}

func (m *MonitorServer) Start() {
	go func() {
		utils.Info("monitor server starting", utils.Int("port", m.port))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("monitor server failed", utils.Err(err))
		}
	}()
}

func (m *MonitorServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.server.Shutdown(ctx)
}

func (m *MonitorServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "UP"
	code := http.StatusOK
	details := make(map[string]string, len(m.checks))

	for _, c := range m.checks {
		if err := c.Check(ctx); err != nil {
			status = "DOWN"
			code = http.StatusServiceUnavailable
			details[c.Name] = err.Error()
			continue
		}
		details[c.Name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = jsoniter.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"checkTime": time.Now().UTC().Format(time.RFC3339),
		"details":   details,
	})
}
