// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"time"

	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// BusEvent is a normalized event emitted to the host event bus. It is built
// once per platform event and not mutated afterwards; derived values hang
// off accessor methods.
type BusEvent struct {
	SelfID      string
	PostType    string
	MessageType string
	SubType     string

	MessageID  string
	GroupID    string
	GroupName  string
	Sender     UserProfile
	Message    []message.Segment
	RawMessage string
	Time       time.Time

	// Raw is the platform event this was normalized from, for consumers
	// that need fields outside the normalized model.
	Raw *qqbot.Event

	// Reply sends a response threaded onto this event. Nil for events
	// with no reply target (e.g. connect).
	Reply func(ctx context.Context, segs ...message.Segment) (*SendOutcome, error)
}

// UserID is the scoped id of the event's originator, derived from the
// sender profile.
func (e *BusEvent) UserID() string {
	return e.Sender.UserID
}

// Key is the host bus routing key, "<postType>.<messageType>.<subType>".
func (e *BusEvent) Key() string {
	return e.PostType + "." + e.MessageType + "." + e.SubType
}

// EventBus receives normalized events. The host supplies an implementation;
// ChannelBus is the in-process default.
type EventBus interface {
	Emit(name string, ev *BusEvent)
}

// BusEnvelope pairs a routing key with its event.
type BusEnvelope struct {
	Name  string
	Event *BusEvent
}

// ChannelBus is a buffered in-process EventBus. Emit never blocks: when the
// buffer is full the event is dropped and counted.
type ChannelBus struct {
	ch      chan BusEnvelope
	dropped chan struct{}
}

// NewChannelBus builds a ChannelBus with the given buffer size.
func NewChannelBus(size int) *ChannelBus {
	return &ChannelBus{
		ch:      make(chan BusEnvelope, size),
		dropped: make(chan struct{}, 1),
	}
}

func (b *ChannelBus) Emit(name string, ev *BusEvent) {
	select {
	case b.ch <- BusEnvelope{Name: name, Event: ev}:
	default:
		select {
		case b.dropped <- struct{}{}:
		default:
		}
	}
}

// Events is the consumer side of the bus.
func (b *ChannelBus) Events() <-chan BusEnvelope {
	return b.ch
}

// Dropped signals that at least one event was dropped since the last read.
func (b *ChannelBus) Dropped() <-chan struct{} {
	return b.dropped
}
