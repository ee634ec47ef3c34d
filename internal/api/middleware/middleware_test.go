package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowflow/pkg/crypto"
	"escrowflow/pkg/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	Recovery(nil)(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestLogging_KeepsStatus(t *testing.T) {
	teapot := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	Logging(nil)(teapot).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, w.Code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"allow all by default", nil, "http://a.example", "*"},
		{"wildcard", []string{"*"}, "http://a.example", "*"},
		{"listed origin", []string{"http://a.example"}, "http://a.example", "http://a.example"},
		{"foreign origin", []string{"http://a.example"}, "http://evil.example", ""},
		{"no origin header", []string{"http://a.example"}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.origins)(okHandler).ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
			if w.Code != http.StatusOK {
				t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/offers", nil)
	req.Header.Set("Origin", "http://a.example")
	w := httptest.NewRecorder()

	CORS(nil)(okHandler).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight должен отвечать %d, получено %d", http.StatusNoContent, w.Code)
	}
	if w.Body.Len() != 0 {
		t.Error("preflight не должен доходить до handler")
	}
}

func TestAdminAuth(t *testing.T) {
	hash, err := crypto.HashToken("s3cret", 0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		hash   string
		header string
		want   int
	}{
		{"valid token", hash, "Bearer s3cret", http.StatusOK},
		{"lowercase scheme", hash, "bearer s3cret", http.StatusOK},
		{"wrong token", hash, "Bearer nope", http.StatusUnauthorized},
		{"no header", hash, "", http.StatusUnauthorized},
		{"basic scheme", hash, "Basic czNjcmV0", http.StatusUnauthorized},
		{"empty bearer", hash, "Bearer ", http.StatusUnauthorized},
		{"disabled", "", "Bearer s3cret", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/replay", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			AdminAuth(tt.hash)(okHandler).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(ratelimit.NewClientLimiter(0.001, 2, 10))(okHandler)

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	// burst = 2
	for i := 0; i < 2; i++ {
		if code := call("10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("запрос %d: expected 200, got %d", i, code)
		}
	}
	if code := call("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Errorf("третий запрос с того же IP: expected 429, got %d", code)
	}
	if code := call("10.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("другой клиент не должен ограничиваться: got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.168.1.1:1234", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"no-port", "no-port"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
