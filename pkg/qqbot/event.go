// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package qqbot

import (
	"encoding/json"

	"github.com/rikkawa/qqbridge/pkg/message"
)

// Ack result codes for interaction events, per the platform contract.
const (
	AckSuccess   = 0
	AckFailure   = 1
	AckBusy      = 2
	AckDuplicate = 3
	AckNoPerm    = 4
	AckAdminOnly = 5
)

// Sender identifies the originator of an inbound event.
type Sender struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// Author carries profile fields delivered alongside guild messages.
type Author struct {
	Avatar string `json:"avatar,omitempty"`
}

// Member carries per-guild member fields.
type Member struct {
	Nick string `json:"nick,omitempty"`
}

// Resolved holds the button context the platform attaches to interaction
// events.
type Resolved struct {
	ButtonID   string `json:"button_id,omitempty"`
	ButtonData string `json:"button_data,omitempty"`
}

// EventData wraps the interaction payload of a notice event.
type EventData struct {
	Resolved Resolved `json:"resolved"`
}

// Event is a raw platform event as delivered by the transport client.
// Message events carry PostType "message"; interaction and membership
// events carry PostType "notice".
type Event struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type,omitempty"`
	NoticeType  string `json:"notice_type,omitempty"`
	SubType     string `json:"sub_type,omitempty"`

	MessageID string `json:"message_id,omitempty"`
	NoticeID  string `json:"notice_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`

	UserID     string `json:"user_id,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	GuildID    string `json:"guild_id,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
	SrcGuildID string `json:"src_guild_id,omitempty"`

	Sender Sender  `json:"sender"`
	Author *Author `json:"author,omitempty"`
	Member *Member `json:"member,omitempty"`

	Message    []message.Segment `json:"message,omitempty"`
	RawMessage string            `json:"raw_message,omitempty"`

	Data *EventData `json:"data,omitempty"`

	// Ack acknowledges an interaction event with one of the Ack* codes.
	// Nil for non-interaction events.
	Ack func(code int) error `json:"-"`
}

// Raw re-marshals the event for diagnostics.
func (e *Event) Raw() json.RawMessage {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return raw
}
