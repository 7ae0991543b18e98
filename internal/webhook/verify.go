/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package webhook authenticates tracker webhook deliveries: HMAC signature
// over the raw body plus a replay window on the embedded timestamp. The
// body is never parsed before the signature checks out.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// Envelope is the authenticated payload shape. Data stays raw for the
// event-specific handling downstream.
type Envelope struct {
	Type             string          `json:"type"`
	Action           string          `json:"action"`
	WebhookTimestamp json.Number     `json:"webhookTimestamp"`
	Data             json.RawMessage `json:"data"`
}

type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

// Verify checks the hex HMAC-SHA256 signature over the raw body. A
// "sha256=" prefix on the header value is tolerated. Comparison is
// constant-time; a length mismatch is inequality, not an error.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 { return domain.E(domain.KindConfiguration, "webhook secret not configured") }
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" { return domain.E(domain.KindAuthFailure, "missing webhook signature") }
	provided, err := hex.DecodeString(signature)
	if err != nil { return domain.E(domain.KindAuthFailure, "malformed webhook signature") }
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) { return domain.E(domain.KindAuthFailure, "webhook signature mismatch") }
	return nil
}

// VerifyAndParse verifies the signature, then parses the envelope and
// enforces the replay window on webhookTimestamp (epoch millis, symmetric
// skew bound).
func (v *Verifier) VerifyAndParse(body []byte, signature string) (Envelope, error) {
	if err := v.Verify(body, signature); err != nil { return Envelope{}, err }
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, domain.Wrap(domain.KindValidation, "malformed webhook payload", err)
	}
	if env.WebhookTimestamp == "" { return Envelope{}, domain.E(domain.KindAuthFailure, "missing webhook timestamp") }
	millis, err := env.WebhookTimestamp.Int64()
	if err != nil { return Envelope{}, domain.E(domain.KindAuthFailure, "malformed webhook timestamp") }
	skew := v.now().Sub(time.UnixMilli(millis))
	if skew < 0 { skew = -skew }
	if skew > v.maxSkew { return Envelope{}, domain.E(domain.KindAuthFailure, "webhook timestamp outside allowed window") }
	return env, nil
}
