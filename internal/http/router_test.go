/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/config"
	"github.com/luisson10/conbiz-ticket-support/internal/webhook"
)

type noopWatchers struct{}

func (noopWatchers) Watch(_, _ string) {}

func testRouter(webhookSecret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{AppEnv: "test", SessionJWTSecret: "session-key", LinearWebhookSecret: webhookSecret, WebhookMaxSkew: 60 * time.Second}
	verifier := webhook.NewVerifier(cfg.LinearWebhookSecret, cfg.WebhookMaxSkew)
	h := NewHandlers(cfg, zerolog.Nop(), nil, nil, verifier, noopWatchers{})
	return NewRouter(cfg, zerolog.Nop(), h)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/linear", strings.NewReader(string(body)))
	if signature != "" { req.Header.Set("linear-signature", signature) }
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookEndpointStatusCodes(t *testing.T) {
	body := []byte(fmt.Sprintf(`{"type":"Issue","action":"update","webhookTimestamp":%d,"data":{}}`, time.Now().UnixMilli()))

	// no configured secret: operability error, not auth
	if w := postWebhook(testRouter(""), body, signBody("s3cret", body)); w.Code != http.StatusInternalServerError {
		t.Fatalf("missing secret: got %d, want 500", w.Code)
	}

	r := testRouter("s3cret")
	if w := postWebhook(r, body, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: got %d, want 401", w.Code)
	}
	if w := postWebhook(r, body, signBody("wrong", body)); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: got %d, want 401", w.Code)
	}

	bad := []byte(`not json`)
	if w := postWebhook(r, bad, signBody("s3cret", bad)); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed payload with valid signature: got %d, want 400", w.Code)
	}

	w := postWebhook(r, body, signBody("s3cret", body))
	if w.Code != http.StatusOK { t.Fatalf("valid delivery: got %d, want 200 (%s)", w.Code, w.Body.String()) }
	if !strings.Contains(w.Body.String(), `"received":true`) { t.Fatalf("missing ack body: %s", w.Body.String()) }

	stale := []byte(fmt.Sprintf(`{"type":"Issue","action":"update","webhookTimestamp":%d,"data":{}}`, time.Now().Add(-61*time.Second).UnixMilli()))
	if w := postWebhook(r, stale, signBody("s3cret", stale)); w.Code != http.StatusUnauthorized {
		t.Fatalf("stale timestamp: got %d, want 401", w.Code)
	}
}

func sessionToken(t *testing.T, role string) string {
	t.Helper()
	claims := sessionClaims{
		Role:      role,
		AccountID: "acc-a",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("session-key"))
	if err != nil { t.Fatal(err) }
	return token
}

func TestAPIRequiresSession(t *testing.T) {
	r := testRouter("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/api/boards", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized { t.Fatalf("no token: got %d, want 401", w.Code) }

	req = httptest.NewRequest(http.MethodGet, "/api/boards", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized { t.Fatalf("garbage token: got %d, want 401", w.Code) }
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	r := testRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/api/releases", strings.NewReader(`{"title":"v1"}`))
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, "USER"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden { t.Fatalf("user on admin route: got %d, want 403", w.Code) }
}
