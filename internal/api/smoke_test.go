// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests do NOT require a PostgreSQL database — they verify:
//   - Gin router routing and middleware wiring
//   - Request validation error responses (400)
//   - JWT auth middleware (401 without token, 401 with bad token)
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/vault/internal/api"
	"github.com/evetabi/vault/internal/config"
	"github.com/evetabi/vault/internal/ledgerclient"
	"github.com/evetabi/vault/internal/service"
	"github.com/evetabi/vault/internal/vault"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		JWT: config.JWTConfig{
			AccessSecret:  "test-access-secret-abcdefghijklmnop",
			RefreshSecret: "test-refresh-secret-abcdefghijklmnop",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
		},
		Ledger: config.LedgerConfig{
			MinDeposit:    1,
			MinWithdrawal: 1,
			MaxWithdrawal: 1_000_000_000,
			MinBet:        1,
			MaxBet:        1_000_000,
			MaxPayoutBps:  1_000,
		},
	}
}

// buildTestRouter creates a Gin engine with a real AuthService (no DB
// needed: with a nil store AuthService skips the granted-role lookup, and
// only operator login reads the store) and a fresh in-memory Vault.
func buildTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := testCfg()
	authSvc := service.NewAuthService(nil, cfg)
	v := vault.New(vault.Economics{
		MinDeposit:    cfg.Ledger.MinDeposit,
		MinWithdrawal: cfg.Ledger.MinWithdrawal,
		MaxWithdrawal: cfg.Ledger.MaxWithdrawal,
		MinBet:        cfg.Ledger.MinBet,
		MaxBet:        cfg.Ledger.MaxBet,
		MaxPayoutBps:  cfg.Ledger.MaxPayoutBps,
	}, ledgerclient.NewFake(), nil, nil)

	r := api.SetupRouter(api.RouterDeps{
		AuthSvc: authSvc,
		Vault:   v,
		Hub:     nil,
		Cfg:     cfg,
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v — body: %s", err, rr.Body.String())
	}
	return m
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

// ── Session endpoint — validation layer ───────────────────────────────────────

func TestCreateSession_MissingPrincipal(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/session", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("POST /api/session empty body = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("response.success should be false on error, got %v", body["success"])
	}
	if body["code"] == nil {
		t.Errorf("error envelope missing 'code', got: %v", body)
	}
}

func TestCreateSession_AnonymousRejected(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"principal":"2vxsx-fae"}`
	rr := do(t, h, http.MethodPost, "/api/session", payload, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("POST /api/session with anonymous principal = %d, want 400", rr.Code)
	}
}

func TestCreateSession_ValidPrincipal(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"principal":"abcde-fghij-klmno"}`
	rr := do(t, h, http.MethodPost, "/api/session", payload, nil)
	if rr.Code != http.StatusCreated {
		t.Errorf("POST /api/session with valid principal = %d, want 201", rr.Code)
	}
	body := decodeBody(t, rr)
	data, _ := body["data"].(map[string]interface{})
	if data == nil || data["access_token"] == nil {
		t.Errorf("expected access_token in response, got: %v", body)
	}
}

func TestOperatorLogin_MissingFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/backoffice/auth/login", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("POST /api/backoffice/auth/login empty = %d, want 400", rr.Code)
	}
}

// ── JWT auth middleware (no token → 401) ──────────────────────────────────────

func TestBalance_NoToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/balance", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/balance without token = %d, want 401", rr.Code)
	}
}

func TestPlay_NoToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"bet":100,"target":5000}`
	rr := do(t, h, http.MethodPost, "/api/play/dice", payload, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/play/dice without token = %d, want 401", rr.Code)
	}
}

func TestWithdraw_NoToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"amount":100,"dest":"owner-1"}`
	rr := do(t, h, http.MethodPost, "/api/withdraw", payload, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/withdraw without token = %d, want 401", rr.Code)
	}
}

func TestLiquidityPosition_NoToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/liquidity/position", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/liquidity/position without token = %d, want 401", rr.Code)
	}
}

// ── JWT auth middleware (invalid token → 401) ─────────────────────────────────

func TestBalance_InvalidToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/balance", "", map[string]string{
		"Authorization": "Bearer not.a.valid.jwt",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/balance with bad JWT = %d, want 401", rr.Code)
	}
}

func TestPlay_InvalidToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"bet":100,"target":5000}`
	// A well-formed JWT header+payload but wrong secret → ParseAccessToken will reject it
	fakeJWT := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9" +
		".eyJzdWIiOiJhYmNkZSIsInJvbGUiOiJwcmluY2lwYWwiLCJ0eXBlIjoiYWNjZXNzIn0" +
		".BADSIG"
	rr := do(t, h, http.MethodPost, "/api/play/dice", payload, map[string]string{
		"Authorization": "Bearer " + fakeJWT,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/play/dice with invalid JWT = %d, want 401", rr.Code)
	}
}

// ── Pool public endpoint ───────────────────────────────────────────────────────

func TestPool_IsPublic(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/pool", "", nil)
	if rr.Code == http.StatusUnauthorized {
		t.Error("GET /api/pool should be a public endpoint (no 401)")
	}
}

// ── Full session → authenticated call round trip ──────────────────────────────

func TestSessionThenBalance_RoundTrip(t *testing.T) {
	h := buildTestRouter(t)

	sessionRR := do(t, h, http.MethodPost, "/api/session", `{"principal":"abcde-fghij-klmno"}`, nil)
	if sessionRR.Code != http.StatusCreated {
		t.Fatalf("session creation failed: %d %s", sessionRR.Code, sessionRR.Body.String())
	}
	body := decodeBody(t, sessionRR)
	data := body["data"].(map[string]interface{})
	token := data["access_token"].(string)

	balRR := do(t, h, http.MethodGet, "/api/balance", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if balRR.Code != http.StatusOK {
		t.Errorf("GET /api/balance with valid session = %d, want 200: %s", balRR.Code, balRR.Body.String())
	}
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/session", `{}`, nil)
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		if _, ok := body[field]; !ok {
			t.Errorf("error envelope missing field %q, got: %v", field, body)
		}
	}
	if body["success"] != false {
		t.Errorf("error envelope.success = %v, want false", body["success"])
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	h := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	// OPTIONS should return 204 (no content) in dev mode
	if rr.Code != http.StatusNoContent && rr.Code != http.StatusOK {
		t.Errorf("OPTIONS /api/session = %d, want 204 or 200", rr.Code)
	}
	allow := rr.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
}

func TestCORSAllowOrigin_Dev(t *testing.T) {
	h := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	// In dev mode, CORS origin should be wildcard
	origin := rr.Header().Get("Access-Control-Allow-Origin")
	if origin != "*" {
		t.Errorf("Dev CORS origin = %q, want *", origin)
	}
}
