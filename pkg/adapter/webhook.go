// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// Webhook frame opcodes.
const (
	opDispatch   = 0
	opValidation = 13
)

// appIDHeader names the account owning a webhook delivery.
const appIDHeader = "X-Bot-Appid"

type webhookPayload struct {
	Op   int             `json:"op"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

type validationRequest struct {
	PlainToken string `json:"plain_token"`
	EventTS    string `json:"event_ts"`
}

type validationResponse struct {
	PlainToken string `json:"plain_token"`
	Signature  string `json:"signature"`
}

// webhookSeed derives the signing seed from an account secret by repeating
// it to the seed length, per the platform verification contract.
func webhookSeed(secret string) []byte {
	seed := []byte(secret)
	for len(seed) < ed25519.SeedSize {
		seed = append(seed, secret...)
	}
	return seed[:ed25519.SeedSize]
}

// signWebhook produces the hex detached signature over event_ts||plain_token.
func signWebhook(secret, eventTS, plainToken string) string {
	key := ed25519.NewKeyFromSeed(webhookSeed(secret))
	return hex.EncodeToString(ed25519.Sign(key, []byte(eventTS+plainToken)))
}

// WebhookDispatcher terminates the platform webhook endpoint: it answers
// signature-validation probes and feeds event frames into the owning
// account's transport dispatch. Requests for unknown application ids are
// dropped with a plain success status so probes learn nothing.
type WebhookDispatcher struct {
	registry *Registry
	log      zerolog.Logger
}

func NewWebhookDispatcher(registry *Registry, log zerolog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		registry: registry,
		log:      log.With().Str("component", "webhook").Logger(),
	}
}

// Attach mounts the dispatcher on a ServeMux at the configured path.
func (d *WebhookDispatcher) Attach(mux *http.ServeMux, path string) {
	// Method-restricted ServeMux patterns ("POST /path") need Go 1.22;
	// restrict to POST by hand so this builds with Go 1.21.
	mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		d.ServeHTTP(w, r)
	}))
}

func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		d.log.Warn().Err(err).Msg("Webhook body read failed")
		w.WriteHeader(http.StatusOK)
		return
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		d.log.Warn().Err(err).Msg("Webhook payload parse failed")
		w.WriteHeader(http.StatusOK)
		return
	}

	appID := r.Header.Get(appIDHeader)
	conn, ok := d.registry.ByAppID(appID)
	if !ok {
		d.log.Debug().Str("app_id", appID).Msg("Webhook delivery for unknown application id")
		w.WriteHeader(http.StatusOK)
		return
	}

	switch payload.Op {
	case opValidation:
		var req validationRequest
		if err := json.Unmarshal(payload.Data, &req); err != nil {
			d.log.Warn().Err(err).Msg("Webhook validation payload parse failed")
			w.WriteHeader(http.StatusOK)
			return
		}
		resp := validationResponse{
			PlainToken: req.PlainToken,
			Signature:  signWebhook(conn.Account.Secret, req.EventTS, req.PlainToken),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			d.log.Warn().Err(err).Msg("Webhook validation response write failed")
		}
		d.log.Info().Str("account_id", conn.ID()).Msg("Webhook endpoint validated")
	case opDispatch:
		conn.Client.DispatchWebhookEvent(payload.Type, payload.Data)
		w.WriteHeader(http.StatusOK)
	default:
		d.log.Debug().Int("op", payload.Op).Msg("Webhook frame with unhandled opcode")
		w.WriteHeader(http.StatusOK)
	}
}
