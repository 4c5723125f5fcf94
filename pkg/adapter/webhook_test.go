// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postWebhook(t *testing.T, a *Adapter, appID, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	a.Webhook.Attach(mux, "/QQBot")
	req := httptest.NewRequest(http.MethodPost, "/QQBot", strings.NewReader(body))
	if appID != "" {
		req.Header.Set(appIDHeader, appID)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

// TestWebhook_Validation verifies the signature probe is answered with a
// verifiable detached signature over event_ts||plain_token.
func TestWebhook_Validation(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t, nil)

	body := `{"op":13,"d":{"plain_token":"token123","event_ts":"1700000000"}}`
	w := postWebhook(t, a, testAppID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp validationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response parse failed: %v", err)
	}
	if resp.PlainToken != "token123" {
		t.Errorf("plain token = %q", resp.PlainToken)
	}

	sig, err := hex.DecodeString(resp.Signature)
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	pub := ed25519.NewKeyFromSeed(webhookSeed("secret0")).Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, []byte("1700000000token123"), sig) {
		t.Error("signature does not verify over event_ts||plain_token")
	}
}

// TestWebhook_UnknownAppID verifies probes for unregistered application ids
// get a bare success with no body, leaking nothing.
func TestWebhook_UnknownAppID(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t, nil)

	body := `{"op":13,"d":{"plain_token":"tok","event_ts":"1"}}`
	w := postWebhook(t, a, "stranger", body)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for unknown app id", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("response body = %q, want empty", w.Body.String())
	}
}

// TestWebhook_EventDispatch verifies event frames flow through the owning
// account's transport into normal event handling.
func TestWebhook_EventDispatch(t *testing.T) {
	t.Parallel()
	a, _, bus := newTestAdapter(t, nil)

	event := `{"post_type":"message","message_type":"group","message_id":"m1",` +
		`"user_id":"u1","group_id":"g1","message":[{"type":"text","text":"via webhook"}]}`
	w := postWebhook(t, a, testAppID, `{"op":0,"t":"GROUP_AT_MESSAGE_CREATE","d":`+event+`}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	env := waitEvent(t, bus)
	if env.Name != "message.group.normal" {
		t.Fatalf("event key = %q", env.Name)
	}
	if env.Event.RawMessage != "via webhook" {
		t.Errorf("raw message = %q", env.Event.RawMessage)
	}
}

// TestWebhookSeed verifies short secrets are repeated to the seed length.
func TestWebhookSeed(t *testing.T) {
	t.Parallel()
	seed := webhookSeed("abc")
	if len(seed) != ed25519.SeedSize {
		t.Fatalf("seed length = %d, want %d", len(seed), ed25519.SeedSize)
	}
	if got, want := string(seed), strings.Repeat("abc", 11)[:ed25519.SeedSize]; got != want {
		t.Errorf("seed = %q, want %q", got, want)
	}
}
