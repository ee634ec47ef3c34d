package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMonitorServer_Healthz(t *testing.T) {
	tests := []struct {
		name     string
		checks   []HealthCheck
		wantCode int
		wantBody string
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			wantBody: `"status":"UP"`,
		},
		{
			name: "all healthy",
			checks: []HealthCheck{
				{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
			},
			wantCode: http.StatusOK,
			wantBody: `"postgres":"ok"`,
		},
		{
			name: "dependency down",
			checks: []HealthCheck{
				{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
				{Name: "redis", Check: func(ctx context.Context) error { return errors.New("dial tcp: refused") }},
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: `"redis":"dial tcp: refused"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitorServer(9100, tt.checks...)

			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestMonitorServer_Metrics(t *testing.T) {
	RecordOutcome("created")
	RecordConsumed("storage-writer", "applied", 1.5)

	m := NewMonitorServer(9100)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"escrowflow_projector_outcomes_total", "escrowflow_consumer_messages_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %s not exposed", name)
		}
	}
}
