// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

const (
	testAccountID = "acct"
	testAppID     = "app1"
)

// clientRecorder is a ClientFactory that keeps every loopback client it
// hands out, so tests can inject failures and emit synthetic events.
type clientRecorder struct {
	mu      sync.Mutex
	clients map[string]*qqbot.LoopbackClient
	// prepare runs on each new client before it is returned.
	prepare func(*qqbot.LoopbackClient)
}

func newClientRecorder() *clientRecorder {
	return &clientRecorder{clients: make(map[string]*qqbot.LoopbackClient)}
}

func (r *clientRecorder) factory(opts qqbot.ClientOptions) qqbot.TransportClient {
	c := qqbot.NewLoopbackClient(opts).(*qqbot.LoopbackClient)
	r.mu.Lock()
	if r.prepare != nil {
		r.prepare(c)
	}
	r.clients[opts.AppID] = c
	r.mu.Unlock()
	return c
}

func (r *clientRecorder) client(t *testing.T, appID string) *qqbot.LoopbackClient {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[appID]
	if !ok {
		t.Fatalf("no client recorded for app id %q", appID)
	}
	return c
}

func testConfig(t *testing.T, mutate func(*Config)) *Config {
	t.Helper()
	cfg := &Config{
		Accounts: []AccountSpec{{
			ID:      testAccountID,
			AppID:   testAppID,
			Token:   "token",
			Secret:  "secret0",
			Enabled: true,
			Group:   true,
		}},
		ToCallback:  true,
		ToBotUpload: true,
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess failed: %v", err)
	}
	return cfg
}

// newTestAdapter wires an adapter over loopback transports and connects the
// configured accounts.
func newTestAdapter(t *testing.T, mutate func(*Config)) (*Adapter, *clientRecorder, *ChannelBus) {
	t.Helper()
	cfg := testConfig(t, mutate)
	rec := newClientRecorder()
	bus := NewChannelBus(64)
	a := New(Options{
		Config:        cfg,
		Bus:           bus,
		ClientFactory: rec.factory,
		Logger:        zerolog.Nop(),
	})
	if got, want := a.ConnectAll(context.Background()), countEnabled(cfg); got != want {
		t.Fatalf("ConnectAll connected %d accounts, want %d", got, want)
	}
	drainConnectEvents(t, bus)
	return a, rec, bus
}

func countEnabled(cfg *Config) int {
	n := 0
	for _, spec := range cfg.Accounts {
		if spec.Enabled {
			n++
		}
	}
	return n
}

// drainConnectEvents consumes the connect events ConnectAll emitted.
func drainConnectEvents(t *testing.T, bus *ChannelBus) {
	t.Helper()
	for {
		select {
		case env := <-bus.Events():
			if env.Event.PostType != "connect" {
				t.Fatalf("unexpected startup event %q", env.Name)
			}
		default:
			return
		}
	}
}

func waitEvent(t *testing.T, bus *ChannelBus) BusEnvelope {
	t.Helper()
	select {
	case env := <-bus.Events():
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for bus event")
		return BusEnvelope{}
	}
}

func testConn(t *testing.T, a *Adapter) *Connection {
	t.Helper()
	conn, ok := a.Registry.Get(testAccountID)
	if !ok {
		t.Fatalf("account %q not registered", testAccountID)
	}
	return conn
}

// groupContext builds an encode context for a plain group destination.
func groupContext(t *testing.T, a *Adapter, groupID string) *EncodeContext {
	t.Helper()
	ectx := NewEncodeContext(testConn(t, a), ChatGroup)
	ectx.GroupID = groupID
	ectx.UserID = "u1"
	ectx.MessageID = "m1"
	return ectx
}

// elementTexts flattens the text contents of a group for assertions.
func elementTexts(group []*qqbot.Element) []string {
	var out []string
	for _, el := range group {
		if el.Type == qqbot.ElementText {
			out = append(out, el.Text)
		}
	}
	return out
}
