// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package qqbot

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// ClientOptions carries the per-account parameters a transport client is
// constructed with.
type ClientOptions struct {
	AppID   string
	Token   string
	Secret  string
	Intents Intent
	Sandbox bool
	Timeout int // request timeout in milliseconds
	// Logger receives transport diagnostics. Implementations must log
	// through it rather than to a global logger.
	Logger zerolog.Logger
}

// ClientFactory builds a transport client for one account.
type ClientFactory func(opts ClientOptions) TransportClient

// SelfInfo is the bot's own profile, fetched after a successful handshake.
type SelfInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// SendResult is the platform response to a single message send.
type SendResult struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// UploadResult is the platform response to an asset upload.
type UploadResult struct {
	URL      string `json:"url"`
	FileInfo string `json:"file_info,omitempty"`
}

// DirectSession identifies a private guild conversation created on demand.
type DirectSession struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

// ReplyContext links an outbound message to the inbound message or
// interaction it answers, so the platform renders it as a reply.
type ReplyContext struct {
	MessageID string `json:"id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
}

// TransportClient is the capability surface of the platform transport.
// Implementations live outside this module; the adapter consumes the
// interface only. Start blocks until the session is ready or ctx expires,
// whichever comes first.
type TransportClient interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	GetSelfInfo(ctx context.Context) (*SelfInfo, error)
	// GetAccessToken fetches a client-credential token without opening a
	// persistent session.
	GetAccessToken(ctx context.Context) (string, error)

	SendPrivateMessage(ctx context.Context, userID string, els []Element, reply *ReplyContext) (*SendResult, error)
	SendGroupMessage(ctx context.Context, groupID string, els []Element, reply *ReplyContext) (*SendResult, error)
	SendGuildMessage(ctx context.Context, channelID string, els []Element, reply *ReplyContext) (*SendResult, error)
	SendDirectMessage(ctx context.Context, guildID string, els []Element, reply *ReplyContext) (*SendResult, error)

	RecallFriendMessage(ctx context.Context, userID, messageID string) error
	RecallGroupMessage(ctx context.Context, groupID, messageID string) error
	RecallGuildMessage(ctx context.Context, channelID, messageID string, hide bool) error
	RecallDirectMessage(ctx context.Context, guildID, messageID string, hide bool) error

	UploadImage(ctx context.Context, data []byte) (*UploadResult, error)
	UploadRecord(ctx context.Context, data []byte) (string, error)

	CreateDirectSession(ctx context.Context, guildID, userID string) (*DirectSession, error)

	// OnEvent registers the raw event sink. Must be called before Start;
	// the client delivers message and notice events to it.
	OnEvent(fn func(*Event))
	// DispatchWebhookEvent feeds an event received over the webhook
	// endpoint into the normal event dispatch path.
	DispatchWebhookEvent(eventType string, payload json.RawMessage)
}
