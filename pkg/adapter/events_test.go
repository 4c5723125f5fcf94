// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// TestHandleMessage_GroupNormalization verifies a raw group message becomes
// a scoped bus event with the bot mention restored.
func TestHandleMessage_GroupNormalization(t *testing.T) {
	t.Parallel()
	a, rec, bus := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)

	client.Emit(&qqbot.Event{
		PostType:    "message",
		MessageType: "group",
		MessageID:   "m100",
		UserID:      "u7",
		GroupID:     "g9",
		Sender:      qqbot.Sender{UserID: "u7", UserName: "seven"},
		Message:     []message.Segment{message.Text("ping")},
	})

	env := waitEvent(t, bus)
	if env.Name != "message.group.normal" {
		t.Fatalf("event key = %q, want message.group.normal", env.Name)
	}
	ev := env.Event
	if ev.GroupID != testAccountID+":g9" {
		t.Errorf("group id = %q, want scoped id", ev.GroupID)
	}
	if ev.UserID() != testAccountID+":u7" {
		t.Errorf("user id = %q, want scoped id", ev.UserID())
	}
	if ev.Sender.Nickname != "seven" {
		t.Errorf("nickname = %q, want seven", ev.Sender.Nickname)
	}
	if len(ev.Message) != 2 || ev.Message[0].Type != message.TypeAt || ev.Message[0].QQ != testAccountID {
		t.Errorf("self mention not restored: %+v", ev.Message)
	}
	if ev.RawMessage != "ping" {
		t.Errorf("raw message = %q, want ping", ev.RawMessage)
	}

	// The sender must have been merged into the profile maps.
	conn := testConn(t, a)
	if p, ok := conn.Friend(testAccountID + ":u7"); !ok || p.Nickname != "seven" {
		t.Errorf("sender profile not merged: %+v ok=%v", p, ok)
	}
	if m, ok := conn.Member(testAccountID+":g9", testAccountID+":u7"); !ok || m.Nickname != "seven" {
		t.Errorf("member profile not merged: %+v ok=%v", m, ok)
	}
}

// TestHandleMessage_GuildNormalization verifies guild messages map onto the
// group model with guild-prefixed ids.
func TestHandleMessage_GuildNormalization(t *testing.T) {
	t.Parallel()
	_, rec, bus := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)

	client.Emit(&qqbot.Event{
		PostType:    "message",
		MessageType: "guild",
		MessageID:   "m1",
		UserID:      "gu1",
		GuildID:     "guild1",
		ChannelID:   "chan1",
		Sender:      qqbot.Sender{UserID: "gu1", UserName: "knight"},
		Message:     []message.Segment{message.Text("hi")},
	})

	env := waitEvent(t, bus)
	if env.Name != "message.group.guild" {
		t.Fatalf("event key = %q, want message.group.guild", env.Name)
	}
	ev := env.Event
	if ev.GroupID != testAccountID+":qg_guild1-chan1" {
		t.Errorf("group id = %q, want channel-shaped id", ev.GroupID)
	}
	if ev.UserID() != testAccountID+":qg_gu1" {
		t.Errorf("user id = %q, want guild-prefixed id", ev.UserID())
	}
}

// TestBusReply verifies the reply closure threads the response onto the
// triggering message.
func TestBusReply(t *testing.T) {
	t.Parallel()
	_, rec, bus := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)

	client.Emit(&qqbot.Event{
		PostType:    "message",
		MessageType: "group",
		MessageID:   "m200",
		UserID:      "u1",
		GroupID:     "g1",
		Message:     []message.Segment{message.Text("hello")},
	})
	env := waitEvent(t, bus)

	outcome, err := env.Event.Reply(context.Background(), message.Text("hi back"))
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if !outcome.OK() || len(outcome.MessageIDs) != 1 {
		t.Fatalf("reply outcome = %+v", outcome)
	}
	sent := client.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sent))
	}
	if sent[0].Chat != "group" || sent[0].TargetID != "g1" {
		t.Errorf("reply sent to %s/%s, want group/g1", sent[0].Chat, sent[0].TargetID)
	}
	if sent[0].Reply == nil || sent[0].Reply.MessageID != "m200" {
		t.Errorf("reply not threaded: %+v", sent[0].Reply)
	}
}

// clickEvent builds an interaction notice for a button id, counting acks.
func clickEvent(buttonID, userID, groupID string, acks *[]int) *qqbot.Event {
	return &qqbot.Event{
		PostType:   "notice",
		NoticeType: "action",
		EventID:    "evt1",
		UserID:     userID,
		GroupID:    groupID,
		Data:       &qqbot.EventData{Resolved: qqbot.Resolved{ButtonID: buttonID}},
		Ack: func(code int) error {
			*acks = append(*acks, code)
			return nil
		},
	}
}

// TestResolveClick_RedeliversText verifies a callback click replays the
// captured text as an inbound message and acks exactly once.
func TestResolveClick_RedeliversText(t *testing.T) {
	t.Parallel()
	a, rec, bus := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)

	ectx := groupContext(t, a, "g1")
	btn := a.Encoder.makeButton(ectx, message.ButtonSpec{Text: "again", Callback: "#roll"}, 0)
	if btn == nil || btn.Action.Type != qqbot.ActionCallback {
		t.Fatalf("expected a callback button, got %+v", btn)
	}

	var acks []int
	client.Emit(clickEvent(btn.ID, "u1", "g1", &acks))

	env := waitEvent(t, bus)
	if env.Name != "message.group.normal" {
		t.Fatalf("event key = %q, want message.group.normal", env.Name)
	}
	if !strings.Contains(env.Event.RawMessage, "#roll") {
		t.Errorf("redelivered text = %q, want it to carry #roll", env.Event.RawMessage)
	}
	if len(acks) != 1 || acks[0] != qqbot.AckSuccess {
		t.Errorf("acks = %v, want exactly one success", acks)
	}

	// The entry is consumed: a second click on the same id with no
	// payload data is acknowledged as already handled.
	var again []int
	client.Emit(clickEvent(btn.ID, "u1", "g1", &again))
	if len(again) != 1 || again[0] != qqbot.AckDuplicate {
		t.Errorf("second click acks = %v, want one duplicate code", again)
	}
}

// TestResolveClick_ExpiredEntry verifies an entry is resolvable before its
// TTL and gone after.
func TestResolveClick_ExpiredEntry(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAdapter(t, nil)
	conn := testConn(t, a)
	conn.callbacks.ttl = 10 * time.Millisecond

	conn.callbacks.put("btn1", &CallbackEntry{Message: "#x"})
	if _, ok := conn.callbacks.take("btn1"); !ok {
		t.Fatal("entry should be resolvable before TTL")
	}

	conn.callbacks.put("btn2", &CallbackEntry{Message: "#y"})
	time.Sleep(50 * time.Millisecond)
	if _, ok := conn.callbacks.take("btn2"); ok {
		t.Fatal("entry should have expired")
	}
	if n := conn.callbacks.len(); n != 0 {
		t.Errorf("table should be empty after expiry, has %d entries", n)
	}
}

// TestResolveClick_AnyOperator verifies a click by someone other than the
// user the button was rendered for still redelivers, attributed to the
// clicker rather than the original user.
func TestResolveClick_AnyOperator(t *testing.T) {
	t.Parallel()
	a, rec, bus := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)

	ectx := groupContext(t, a, "g1")
	btn := a.Encoder.makeButton(ectx, message.ButtonSpec{Text: "again", Callback: "#roll"}, 0)

	var acks []int
	client.Emit(clickEvent(btn.ID, "u2", "g1", &acks))

	env := waitEvent(t, bus)
	if env.Name != "message.group.normal" {
		t.Fatalf("event key = %q, want message.group.normal", env.Name)
	}
	if env.Event.UserID() != testAccountID+":u2" {
		t.Errorf("redelivery attributed to %q, want the clicker", env.Event.UserID())
	}
	if !strings.Contains(env.Event.RawMessage, "#roll") {
		t.Errorf("redelivered text = %q, want it to carry #roll", env.Event.RawMessage)
	}
	if len(acks) != 1 || acks[0] != qqbot.AckSuccess {
		t.Errorf("acks = %v, want one success", acks)
	}
	if n := len(client.Sent()); n != 0 {
		t.Errorf("local click should not prompt, got %d sends", n)
	}
}

// TestResolveClick_ReplyChain verifies every message id the original send
// produced comes back as a reply segment, in order.
func TestResolveClick_ReplyChain(t *testing.T) {
	t.Parallel()
	a, rec, bus := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)
	conn := testConn(t, a)

	ids := []string{"sent-1", "sent-2"}
	conn.callbacks.put("btn-chain", &CallbackEntry{
		UserID:      testAccountID + ":u1",
		GroupID:     testAccountID + ":g1",
		MessageID:   "m1",
		Message:     "#roll",
		ProducedIDs: &ids,
	})

	var acks []int
	client.Emit(clickEvent("btn-chain", "u1", "g1", &acks))

	env := waitEvent(t, bus)
	var replies []string
	for _, seg := range env.Event.Message {
		if seg.Type == message.TypeReply {
			replies = append(replies, seg.ID)
		}
	}
	if len(replies) != 2 || replies[0] != "sent-1" || replies[1] != "sent-2" {
		t.Errorf("reply chain = %v, want [sent-1 sent-2]", replies)
	}
	if !strings.Contains(env.Event.RawMessage, "#roll") {
		t.Errorf("raw message = %q, want it to carry #roll", env.Event.RawMessage)
	}
}

// TestResolveClick_BindHandshake verifies the cross-account flow: a clicker
// the owning account cannot attribute is prompted to bind, confirmation on
// the owning account merges the identities, and the next click dispatches
// there under the bound real id.
func TestResolveClick_BindHandshake(t *testing.T) {
	t.Parallel()
	a, rec, bus := newTestAdapter(t, func(cfg *Config) {
		cfg.Accounts = append(cfg.Accounts, AccountSpec{
			ID:      "acct2",
			AppID:   "app2",
			Token:   "token2",
			Secret:  "secret2",
			Enabled: true,
			Group:   true,
		})
	})
	client := rec.client(t, testAppID)
	client2 := rec.client(t, "app2")
	conn := testConn(t, a)

	// A callback captured on the second account arrives through the first.
	conn.callbacks.put("btn-x", &CallbackEntry{
		SelfID:    "acct2",
		UserID:    "acct2:real1",
		GroupID:   "acct2:g2",
		MessageID: "m0",
		Message:   "#roll",
	})

	var acks []int
	client.Emit(clickEvent("btn-x", "eph1", "g1", &acks))
	if len(acks) != 1 || acks[0] != qqbot.AckSuccess {
		t.Fatalf("acks = %v, want one success", acks)
	}
	sent := client.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected the bind prompt to be sent, got %d sends", len(sent))
	}
	if texts := elementTexts(ptrElements(sent[0].Elements)); len(texts) == 0 || !strings.Contains(texts[0], bindCommand) {
		t.Errorf("prompt = %v, want the bind command mention", texts)
	}
	if _, pending := a.Registry.bindRequestFor("acct2:real1"); !pending {
		t.Fatal("bind request not recorded")
	}

	// The real identity confirms on its own account; the mapping must land
	// on the account the ephemeral id is scoped to.
	client2.Emit(&qqbot.Event{
		PostType:    "message",
		MessageType: "group",
		MessageID:   "m1",
		UserID:      "real1",
		GroupID:     "g2",
		Message:     []message.Segment{message.Text(bindConfirmCommand)},
	})
	if p, ok := conn.Friend(testAccountID + ":eph1"); !ok || p.RealID != "acct2:real1" {
		t.Errorf("ephemeral identity not bound on the clicking account: %+v ok=%v", p, ok)
	}
	if _, pending := a.Registry.bindRequestFor("acct2:real1"); pending {
		t.Error("bind request should be cleared after confirmation")
	}

	// Bound: the next cross-account click dispatches on the owning account
	// attributed to the real id.
	conn.callbacks.put("btn-y", &CallbackEntry{
		SelfID:    "acct2",
		UserID:    "acct2:real1",
		GroupID:   "acct2:g2",
		MessageID: "m0",
		Message:   "#roll",
	})
	var again []int
	client.Emit(clickEvent("btn-y", "eph1", "g1", &again))
	env := waitEvent(t, bus)
	if env.Event.SelfID != "acct2" {
		t.Errorf("dispatched on %q, want acct2", env.Event.SelfID)
	}
	if env.Event.UserID() != "acct2:real1" {
		t.Errorf("attributed to %q, want the bound real id", env.Event.UserID())
	}
	if env.Event.GroupID != "acct2:g2" {
		t.Errorf("group = %q, want the captured context", env.Event.GroupID)
	}
	if len(again) != 1 || again[0] != qqbot.AckSuccess {
		t.Errorf("acks = %v, want one success", again)
	}
}

// TestResolveClick_PromptGroupBackfill verifies the bind prompt targets the
// group captured in the callback entry when the interaction event omits it.
func TestResolveClick_PromptGroupBackfill(t *testing.T) {
	t.Parallel()
	a, rec, _ := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)
	conn := testConn(t, a)

	conn.callbacks.put("btn-g", &CallbackEntry{
		SelfID:  "other",
		UserID:  "other:real9",
		GroupID: testAccountID + ":g5",
		Message: "#roll",
	})

	var acks []int
	client.Emit(clickEvent("btn-g", "eph2", "", &acks))
	if len(acks) != 1 || acks[0] != qqbot.AckSuccess {
		t.Fatalf("acks = %v, want one success", acks)
	}
	sent := client.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected the bind prompt to be sent, got %d sends", len(sent))
	}
	if sent[0].Chat != "group" || sent[0].TargetID != "g5" {
		t.Errorf("prompt sent to %s/%s, want group/g5", sent[0].Chat, sent[0].TargetID)
	}
	if _, pending := a.Registry.bindRequestFor("other:real9"); !pending {
		t.Error("bind request not recorded")
	}
}

// ptrElements adapts recorded value elements for the test helpers.
func ptrElements(els []qqbot.Element) []*qqbot.Element {
	out := make([]*qqbot.Element, len(els))
	for i := range els {
		out[i] = &els[i]
	}
	return out
}

// TestHandleNotice_GenericEvent verifies non-interaction notices reach the
// bus under the notice key.
func TestHandleNotice_GenericEvent(t *testing.T) {
	t.Parallel()
	_, rec, bus := newTestAdapter(t, nil)
	client := rec.client(t, testAppID)

	client.Emit(&qqbot.Event{
		PostType:   "notice",
		NoticeType: "group_increase",
		SubType:    "invite",
		UserID:     "u3",
		GroupID:    "g3",
	})
	env := waitEvent(t, bus)
	if env.Name != "notice.group_increase.invite" {
		t.Fatalf("event key = %q", env.Name)
	}
	if env.Event.GroupID != testAccountID+":g3" {
		t.Errorf("group id = %q, want scoped", env.Event.GroupID)
	}
}
