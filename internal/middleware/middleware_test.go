package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/R3E-Network/lottery_layer/internal/events"
	"github.com/R3E-Network/lottery_layer/internal/httputil"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
)

const testSecret = "test-secret"

func echoSender() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(Sender(r.Context())))
	})
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestAuthMiddleware(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logger.Discard())
	handler := m.Handler(echoSender())

	valid, err := IssueToken(testSecret, "NaddrA", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expired, err := IssueToken(testSecret, "NaddrA", -time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	wrongKey, err := IssueToken("other-secret", "NaddrA", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	noAddress, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name   string
		header string
		status int
		sender string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "NaddrA"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "NaddrA"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
		{"missing claim", "Bearer " + noAddress, http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/execute", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if tc.status == http.StatusOK {
				if rr.Body.String() != tc.sender {
					t.Fatalf("sender = %q, want %q", rr.Body.String(), tc.sender)
				}
				return
			}
			if body := decodeError(t, rr); body.Error != CodeUnauthenticated || body.Success {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	m := NewAuthMiddleware("", logger.Discard())
	if m.Enabled() {
		t.Fatal("empty secret should disable auth")
	}
	rr := httptest.NewRecorder()
	m.Handler(echoSender()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/execute", nil))
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(remote, sender string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
		req.RemoteAddr = remote
		if sender != "" {
			req = req.WithContext(WithSender(req.Context(), sender))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("10.0.0.1:1000", ""); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := call("10.0.0.1:2000", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected burst exhausted for same IP, got %d", code)
	}
	if code := call("10.0.0.2:1000", ""); code != http.StatusOK {
		t.Fatalf("other IP should have its own bucket, got %d", code)
	}
	if code := call("10.0.0.1:1000", "NaddrA"); code != http.StatusOK {
		t.Fatalf("authenticated sender should be keyed separately, got %d", code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, logger.Discard())
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d limited", i)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := NewRequestID(logger.Discard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = events.RequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	id := rr.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q: %v", id, err)
	}
	if seen != id {
		t.Fatalf("context id %q != header id %q", seen, id)
	}

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get(RequestIDHeader) != incoming {
		t.Fatal("valid incoming id should be kept")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get(RequestIDHeader) == "<script>" {
		t.Fatal("malformed incoming id should be replaced")
	}
}

func TestCORS(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example.com", ".neo.org"}).
		Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://app.example.com", true},
		{"https://wallet.neo.org", true},
		{"https://evil.com", false},
		{"https://app.example.com.evil.com", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
		req.Header.Set("Origin", tc.origin)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		got := rr.Header().Get("Access-Control-Allow-Origin") == tc.origin
		if got != tc.allowed {
			t.Errorf("origin %s: allowed=%v, want %v", tc.origin, got, tc.allowed)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/v1/execute", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}
}
