// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// callbackTTL bounds how long a rendered callback button stays resolvable.
// Entries evict themselves, so the table never grows without bound.
const callbackTTL = 5 * time.Minute

// CallbackEntry correlates a rendered callback button with the context
// needed to react to its click.
type CallbackEntry struct {
	// MessageID is the message the button was rendered in response to.
	MessageID string
	// UserID and GroupID are the scoped ids of the triggering context.
	UserID  string
	GroupID string
	// Message is the literal text redelivered on click.
	Message string
	// ProducedIDs points at the message ids the send that carried this
	// button produced; the coordinator appends to it after delivery.
	ProducedIDs *[]string
	// SelfID marks a cross-account entry: the click is replayed on this
	// account rather than the one that received it.
	SelfID string

	timer *time.Timer
}

// callbackTable is the per-connection pending-callback store. Expiry is a
// scheduled one-shot per entry, cancelled when the entry is consumed first.
type callbackTable struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*CallbackEntry
}

func newCallbackTable() *callbackTable {
	return &callbackTable{ttl: callbackTTL, entries: make(map[string]*CallbackEntry)}
}

func (t *callbackTable) put(id string, entry *CallbackEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	entry.timer = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		delete(t.entries, id)
		t.mu.Unlock()
	})
	t.entries[id] = entry
}

// take consumes an entry, cancelling its expiry timer.
func (t *callbackTable) take(id string) (*CallbackEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry, true
}

func (t *callbackTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *callbackTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entry := range t.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.entries, id)
	}
}

// makeButton renders one button spec into its wire shape. Callback buttons
// register a table entry when the interaction channel is enabled; otherwise
// they degrade to input-prefill buttons that resend their text. Returns nil
// for specs with no action.
func (e *Encoder) makeButton(ectx *EncodeContext, spec message.ButtonSpec, style int) *qqbot.Button {
	btn := &qqbot.Button{
		ID: uuid.New().String(),
		RenderData: qqbot.RenderData{
			Label:        spec.Text,
			VisitedLabel: spec.ClickedText,
			Style:        style,
		},
	}

	switch {
	case spec.Input != "":
		btn.Action = &qqbot.ButtonAction{
			Type:       qqbot.ActionInput,
			Permission: qqbot.ButtonPermission{Type: qqbot.PermissionEveryone},
			Data:       spec.Input,
			Enter:      spec.Send,
		}
	case spec.Callback != "":
		if e.cfg.ToCallback {
			btn.Action = &qqbot.ButtonAction{
				Type:       qqbot.ActionCallback,
				Permission: qqbot.ButtonPermission{Type: qqbot.PermissionEveryone},
			}
			ectx.Conn.callbacks.put(btn.ID, &CallbackEntry{
				MessageID:   ectx.MessageID,
				UserID:      ectx.ScopedUserID(),
				GroupID:     ectx.ScopedGroupID(),
				Message:     spec.Callback,
				ProducedIDs: ectx.producedIDs,
			})
		} else {
			btn.Action = &qqbot.ButtonAction{
				Type:       qqbot.ActionInput,
				Permission: qqbot.ButtonPermission{Type: qqbot.PermissionEveryone},
				Data:       spec.Callback,
				Enter:      true,
			}
		}
	case spec.Link != "":
		btn.Action = &qqbot.ButtonAction{
			Type:       qqbot.ActionLink,
			Permission: qqbot.ButtonPermission{Type: qqbot.PermissionEveryone},
			Data:       spec.Link,
		}
	default:
		return nil
	}

	if perm := spec.Permission; perm != nil {
		if perm.Admin {
			btn.Action.Permission.Type = qqbot.PermissionAdmin
		} else if len(perm.UserIDs) > 0 {
			btn.Action.Permission.Type = qqbot.PermissionSpecify
			ids := make([]string, 0, len(perm.UserIDs))
			for _, id := range perm.UserIDs {
				// The platform compares raw ids, so the account
				// scope prefix must not reach the wire.
				ids = append(ids, UnscopeID(ectx.SelfID, id))
			}
			btn.Action.Permission.SpecifyUserIDs = ids
		}
	}
	return btn
}

// makeButtons renders button rows into keyboard elements, one element per
// non-empty row. Button styles alternate from a random phase, matching the
// platform's visual convention.
func (e *Encoder) makeButtons(ectx *EncodeContext, rows [][]message.ButtonSpec) []*qqbot.Element {
	var els []*qqbot.Element
	phase := rand.Intn(2)
	for _, row := range rows {
		var buttons []*qqbot.Button
		for _, spec := range row {
			style := (phase + len(els) + len(buttons)) % 2
			if btn := e.makeButton(ectx, spec, style); btn != nil {
				buttons = append(buttons, btn)
			}
		}
		if len(buttons) > 0 {
			els = append(els, &qqbot.Element{Type: qqbot.ElementKeyboard, Buttons: buttons})
		}
	}
	return els
}
