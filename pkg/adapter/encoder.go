// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// ChatType distinguishes the destination kind of an outgoing message.
type ChatType int

const (
	ChatFriend ChatType = iota
	ChatGroup
	ChatGuild
	ChatDirect
)

func (c ChatType) String() string {
	switch c {
	case ChatFriend:
		return "friend"
	case ChatGroup:
		return "group"
	case ChatGuild:
		return "guild"
	case ChatDirect:
		return "direct"
	}
	return "unknown"
}

// maxNodeDepth caps recursive forward-node expansion.
const maxNodeDepth = 10

// Placeholders substituted for content the destination cannot carry inline.
const (
	qrScanPlaceholder   = "[链接(请扫码查看)]"
	qrButtonPlaceholder = "[链接(请点击按钮查看)]"
	filePlaceholder     = "[文件(请点击按钮查看)]"
	filePrefix          = "文件："
)

// EncodeContext carries the per-send state an encoding pass needs: the
// sending connection, destination identifiers and the reply context, plus
// the shared slice that delivery fills with produced message IDs so
// callback entries created during encoding can observe them.
type EncodeContext struct {
	Conn *Connection
	Chat ChatType

	SelfID     string
	MessageID  string
	UserID     string
	GroupID    string
	GuildID    string
	ChannelID  string
	SrcGuildID string

	Reply *qqbot.ReplyContext

	producedIDs *[]string
	depth       int
}

// NewEncodeContext prepares a context for one send. The produced-ID slice
// starts empty and is shared by reference with any callback entries.
func NewEncodeContext(conn *Connection, chat ChatType) *EncodeContext {
	ids := make([]string, 0, 2)
	return &EncodeContext{
		Conn:        conn,
		Chat:        chat,
		SelfID:      conn.ID(),
		producedIDs: &ids,
	}
}

// ScopedUserID returns the destination user in multi-account scoped form,
// or "" for non-user destinations.
func (c *EncodeContext) ScopedUserID() string {
	if c.UserID == "" {
		return ""
	}
	return ScopeID(c.SelfID, c.UserID)
}

// ScopedGroupID returns the destination group or channel in scoped form.
func (c *EncodeContext) ScopedGroupID() string {
	if c.GroupID != "" {
		return ScopeID(c.SelfID, c.GroupID)
	}
	if c.GuildID != "" {
		return ScopeID(c.SelfID, ScopeChannelID(c.GuildID, c.ChannelID))
	}
	return ""
}

// ProducedIDs reports the message IDs recorded so far for this send.
func (c *EncodeContext) ProducedIDs() []string {
	return *c.producedIDs
}

// RecordProducedID appends a sent message ID to the shared slice.
func (c *EncodeContext) RecordProducedID(id string) {
	*c.producedIDs = append(*c.producedIDs, id)
}

// child derives a context for expanding a forward node one level down.
func (c *EncodeContext) child() *EncodeContext {
	sub := *c
	sub.depth++
	return &sub
}

// Encoder turns platform-agnostic segments into wire element groups, one
// group per outgoing platform message.
type Encoder struct {
	cfg   *Config
	media *MediaPipeline
	log   zerolog.Logger
}

func NewEncoder(cfg *Config, media *MediaPipeline, log zerolog.Logger) *Encoder {
	return &Encoder{
		cfg:   cfg,
		media: media,
		log:   log.With().Str("component", "encoder").Logger(),
	}
}

// Encode renders segments for the destination in ectx using the account's
// configured strategy. Guild and direct destinations use the guild form
// regardless of strategy. The returned groups are sent in order.
func (e *Encoder) Encode(ctx context.Context, ectx *EncodeContext, segs []message.Segment) ([][]*qqbot.Element, error) {
	if ectx.Chat == ChatGuild || ectx.Chat == ChatDirect {
		return e.encodeGuild(ctx, ectx, segs)
	}
	strategy, template := e.cfg.StrategyFor(ectx.SelfID)
	switch strategy {
	case StrategyTemplate:
		return e.encodeTemplate(ctx, ectx, template, segs)
	case StrategyRaw:
		return e.encodeRawMarkdown(ctx, ectx, segs)
	default:
		return e.encodePlain(ctx, ectx, segs)
	}
}

// EncodePlain renders segments with the plain strategy unconditionally.
// Delivery uses it as the fallback when a styled send is rejected.
func (e *Encoder) EncodePlain(ctx context.Context, ectx *EncodeContext, segs []message.Segment) ([][]*qqbot.Element, error) {
	if ectx.Chat == ChatGuild || ectx.Chat == ChatDirect {
		return e.encodeGuild(ctx, ectx, segs)
	}
	return e.encodePlain(ctx, ectx, segs)
}

// rawElements extracts passthrough wire elements from a raw segment.
func rawElements(seg message.Segment) []*qqbot.Element {
	switch v := seg.Raw.(type) {
	case []*qqbot.Element:
		return v
	case *qqbot.Element:
		return []*qqbot.Element{v}
	case qqbot.Element:
		return []*qqbot.Element{&v}
	}
	if len(seg.Data) > 0 {
		return []*qqbot.Element{{Type: qqbot.ElementType(seg.Type), Data: seg.Data}}
	}
	return nil
}

// applyReply prefixes every group with the captured reply context. A reply
// found anywhere in the input applies to all produced messages.
func applyReply(groups [][]*qqbot.Element, reply *qqbot.Element) [][]*qqbot.Element {
	if reply == nil {
		return groups
	}
	for i, group := range groups {
		withReply := make([]*qqbot.Element, 0, len(group)+1)
		withReply = append(withReply, reply)
		withReply = append(withReply, group...)
		groups[i] = withReply
	}
	return groups
}
