// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// TestConnect_FailureLeavesRegistryUnchanged verifies a handshake failure
// returns false without registering anything.
func TestConnect_FailureLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, nil)
	rec := newClientRecorder()
	rec.prepare = func(c *qqbot.LoopbackClient) {
		c.StartErr = errors.New("handshake refused")
	}
	a := New(Options{Config: cfg, ClientFactory: rec.factory, Logger: zerolog.Nop()})

	if a.Registry.Connect(context.Background(), cfg.Accounts[0]) {
		t.Fatal("Connect should report failure")
	}
	if _, ok := a.Registry.Get(testAccountID); ok {
		t.Error("failed connect must not register the account")
	}
	if _, ok := a.Registry.ByAppID(testAppID); ok {
		t.Error("failed connect must not register the app id alias")
	}
}

// TestDisconnect_UnknownThenReconnect verifies disconnecting an unknown id
// is a no-op and a fresh connect still succeeds afterwards.
func TestDisconnect_UnknownThenReconnect(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t, nil)
	ctx := context.Background()

	a.Registry.Disconnect(ctx, "ghost")

	a.Registry.Disconnect(ctx, testAccountID)
	if _, ok := a.Registry.Get(testAccountID); ok {
		t.Fatal("account should be gone after disconnect")
	}
	if !a.Registry.Connect(ctx, a.Config.Accounts[0]) {
		t.Fatal("reconnect after disconnect should succeed")
	}
	if _, ok := a.Registry.Get(testAccountID); !ok {
		t.Error("reconnected account missing from registry")
	}
}

// TestConnect_ReplacesExisting verifies connecting an already-registered id
// stops the old connection and releases its pending callback timers.
func TestConnect_ReplacesExisting(t *testing.T) {
	t.Parallel()
	a, rec, bus := newTestAdapter(t, nil)
	first := rec.client(t, testAppID)
	if !first.Started() {
		t.Fatal("initial connection should hold an open session")
	}
	conn := testConn(t, a)
	conn.callbacks.put("btn1", &CallbackEntry{Message: "#x"})

	if !a.Registry.Connect(context.Background(), a.Config.Accounts[0]) {
		t.Fatal("reconnect over a live registration should succeed")
	}
	drainConnectEvents(t, bus)

	if first.Started() {
		t.Error("replaced connection should have been stopped")
	}
	if n := conn.callbacks.len(); n != 0 {
		t.Errorf("replaced connection still holds %d callback entries", n)
	}
	second := rec.client(t, testAppID)
	if second == first {
		t.Fatal("reconnect should have produced a fresh client")
	}
	fresh := testConn(t, a)
	if fresh == conn {
		t.Error("registry should hold the fresh connection")
	}
	if !second.Started() {
		t.Error("fresh connection should hold an open session")
	}
}

// TestConnect_ClientCredential verifies the token-only variant skips the
// persistent session but still registers the connection.
func TestConnect_ClientCredential(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t, func(cfg *Config) {
		cfg.Accounts[0].ClientCredential = true
	})
	conn, ok := a.Registry.Get(testAccountID)
	if !ok {
		t.Fatal("client-credential account not registered")
	}
	if conn.Info.Username != "loopback" {
		t.Errorf("self info not fetched: %+v", conn.Info)
	}
}

// TestProfileMerge verifies partial profile records merge monotonically.
func TestProfileMerge(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t, nil)
	conn := testConn(t, a)

	conn.MergeFriend("acct:u1", UserProfile{UserID: "acct:u1", Nickname: "neo"})
	conn.MergeFriend("acct:u1", UserProfile{UserID: "acct:u1", Avatar: "https://a/x.png"})
	p, ok := conn.Friend("acct:u1")
	if !ok {
		t.Fatal("friend missing")
	}
	if p.Nickname != "neo" || p.Avatar != "https://a/x.png" {
		t.Errorf("merge lost fields: %+v", p)
	}

	conn.MergeMember("acct:g1", "acct:u1", UserProfile{UserID: "acct:u1", Card: "the one"})
	m, ok := conn.Member("acct:g1", "acct:u1")
	if !ok {
		t.Fatal("member missing")
	}
	if m.Nickname != "neo" || m.Card != "the one" {
		t.Errorf("member lookup should overlay friend fields: %+v", m)
	}
}

// TestIntentsFor verifies the flag-to-intent derivation.
func TestIntentsFor(t *testing.T) {
	t.Parallel()
	base := intentsFor(AccountSpec{})
	if base.Has(qqbot.IntentGroupAndC2CMessages) {
		t.Error("group intent should require the group flag")
	}
	if !base.Has(qqbot.IntentPublicGuildMessages) || base.Has(qqbot.IntentGuildMessages) {
		t.Error("default guild subscription should be the public subset")
	}

	full := intentsFor(AccountSpec{Group: true, GuildMessages: true})
	if !full.Has(qqbot.IntentGroupAndC2CMessages) {
		t.Error("group flag should add the group intent")
	}
	if !full.Has(qqbot.IntentGuildMessages) || full.Has(qqbot.IntentPublicGuildMessages) {
		t.Error("guild_messages flag should swap to the private-domain intent")
	}
}
