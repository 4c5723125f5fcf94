// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// Identity-binding command surface. An anonymous clicker proves ownership
// of a real id by having that id send the confirm command.
const (
	bindCommand        = "#QQBot绑定用户"
	bindConfirmCommand = "#QQBot绑定用户确认"
	bindPromptText     = "请先发送 " + bindCommand + "+你的用户ID 进行绑定"
	bindConfirmPrompt  = "请使用目标账号发送 " + bindConfirmCommand + " 完成绑定"
	bindDoneText       = "绑定成功"
)

// EventProcessor normalizes raw transport events into host-bus events and
// resolves interactive-button clicks back to their captured context.
type EventProcessor struct {
	cfg      *Config
	registry *Registry
	delivery *DeliveryCoordinator
	bus      EventBus
	log      zerolog.Logger
}

func NewEventProcessor(cfg *Config, registry *Registry, delivery *DeliveryCoordinator, bus EventBus, log zerolog.Logger) *EventProcessor {
	return &EventProcessor{
		cfg:      cfg,
		registry: registry,
		delivery: delivery,
		bus:      bus,
		log:      log.With().Str("component", "events").Logger(),
	}
}

// HandleEvent is the raw event entry point installed on the registry.
func (p *EventProcessor) HandleEvent(conn *Connection, ev *qqbot.Event) {
	switch ev.PostType {
	case "message":
		p.handleMessage(conn, ev)
	case "notice":
		p.handleNotice(conn, ev)
	default:
		p.log.Debug().Str("post_type", ev.PostType).Msg("Unhandled event type")
	}
}

// scopeSegments rewrites inbound at-mention targets into their scoped form.
func scopeSegments(selfID string, guild bool, segs []message.Segment) []message.Segment {
	out := make([]message.Segment, len(segs))
	copy(out, segs)
	for i, seg := range out {
		if seg.Type != message.TypeAt || seg.QQ == "all" {
			continue
		}
		if guild {
			out[i].QQ = ScopeID(selfID, ScopeGuildUserID(seg.QQ))
		} else {
			out[i].QQ = ScopeID(selfID, seg.QQ)
		}
	}
	return out
}

// resolveRealID follows a bound ephemeral profile to its real id.
func resolveRealID(conn *Connection, scopedID string) string {
	if p, ok := conn.Friend(scopedID); ok && p.RealID != "" {
		return p.RealID
	}
	return scopedID
}

func (p *EventProcessor) handleMessage(conn *Connection, ev *qqbot.Event) {
	selfID := conn.ID()
	busEv := &BusEvent{
		SelfID:    selfID,
		PostType:  "message",
		MessageID: ev.MessageID,
		Time:      time.Now(),
		Raw:       ev,
	}
	var chat ChatType
	var rawSegs []message.Segment

	switch ev.MessageType {
	case "group":
		chat = ChatGroup
		busEv.MessageType = "group"
		busEv.SubType = "normal"
		busEv.GroupID = ScopeID(selfID, ev.GroupID)
		busEv.Sender = UserProfile{
			UserID:   resolveRealID(conn, ScopeID(selfID, ev.UserID)),
			Nickname: ev.Sender.UserName,
			Avatar:   conn.AvatarURL(ev.UserID),
		}
		// The platform only delivers group messages addressed to the
		// bot, so the mention is restored for the host.
		rawSegs = scopeSegments(selfID, false, ev.Message)
		busEv.Message = append([]message.Segment{message.At(selfID)}, rawSegs...)
	case "guild":
		chat = ChatGuild
		busEv.MessageType = "group"
		busEv.SubType = "guild"
		busEv.GroupID = ScopeID(selfID, ScopeChannelID(ev.GuildID, ev.ChannelID))
		busEv.Sender = UserProfile{
			UserID:    ScopeID(selfID, ScopeGuildUserID(ev.UserID)),
			Nickname:  ev.Sender.UserName,
			GuildID:   ev.GuildID,
			ChannelID: ev.ChannelID,
		}
		if ev.Author != nil {
			busEv.Sender.Avatar = ev.Author.Avatar
		}
		if ev.Member != nil && ev.Member.Nick != "" {
			busEv.Sender.Card = ev.Member.Nick
		}
		busEv.Message = scopeSegments(selfID, true, ev.Message)
	case "direct":
		chat = ChatDirect
		busEv.MessageType = "private"
		busEv.SubType = "direct"
		busEv.Sender = UserProfile{
			UserID:     ScopeID(selfID, ScopeGuildUserID(ev.UserID)),
			Nickname:   ev.Sender.UserName,
			GuildID:    ev.GuildID,
			SrcGuildID: ev.SrcGuildID,
		}
		if ev.Author != nil {
			busEv.Sender.Avatar = ev.Author.Avatar
		}
		busEv.Message = scopeSegments(selfID, true, ev.Message)
	default: // c2c private
		chat = ChatFriend
		busEv.MessageType = "private"
		busEv.SubType = "friend"
		busEv.Sender = UserProfile{
			UserID:   resolveRealID(conn, ScopeID(selfID, ev.UserID)),
			Nickname: ev.Sender.UserName,
			Avatar:   conn.AvatarURL(ev.UserID),
		}
		busEv.Message = scopeSegments(selfID, false, ev.Message)
	}

	busEv.RawMessage = ev.RawMessage
	if busEv.RawMessage == "" {
		if rawSegs == nil {
			rawSegs = busEv.Message
		}
		busEv.RawMessage = message.Summarize(rawSegs)
	}

	conn.MergeFriend(busEv.Sender.UserID, busEv.Sender)
	if busEv.GroupID != "" {
		conn.MergeGroup(busEv.GroupID, GroupProfile{})
		conn.MergeMember(busEv.GroupID, busEv.Sender.UserID, busEv.Sender)
		if g, ok := conn.Group(busEv.GroupID); ok {
			busEv.GroupName = g.Name
		}
	}

	busEv.Reply = p.replyFunc(conn, ev, chat)

	if p.handleBindCommand(conn, busEv) {
		return
	}

	conn.log.Info().
		Str("message_id", busEv.MessageID).
		Str("user_id", busEv.Sender.UserID).
		Str("group_id", busEv.GroupID).
		Str("raw_message", busEv.RawMessage).
		Msg("Message received")
	p.bus.Emit(busEv.Key(), busEv)
}

// replyFunc builds the reply closure for a normalized event. Replies are
// threaded onto the triggering message or interaction.
func (p *EventProcessor) replyFunc(conn *Connection, ev *qqbot.Event, chat ChatType) func(context.Context, ...message.Segment) (*SendOutcome, error) {
	userID := ev.UserID
	groupID := ev.GroupID
	guildID := ev.GuildID
	channelID := ev.ChannelID
	srcGuildID := ev.SrcGuildID
	reply := &qqbot.ReplyContext{MessageID: ev.MessageID, EventID: ev.EventID}
	return func(ctx context.Context, segs ...message.Segment) (*SendOutcome, error) {
		ectx := NewEncodeContext(conn, chat)
		ectx.UserID = userID
		ectx.GroupID = groupID
		ectx.GuildID = guildID
		ectx.ChannelID = channelID
		ectx.SrcGuildID = srcGuildID
		ectx.MessageID = ev.MessageID
		ectx.Reply = reply
		return p.delivery.Send(ctx, ectx, segs)
	}
}

// handleBindCommand intercepts the identity-binding commands. Returns true
// when the message was consumed.
func (p *EventProcessor) handleBindCommand(conn *Connection, busEv *BusEvent) bool {
	text := strings.TrimSpace(busEv.RawMessage)
	selfID := busEv.SelfID

	if strings.HasPrefix(text, bindConfirmCommand) {
		realID := busEv.Sender.UserID
		eph, pending := p.registry.bindRequestFor(realID)
		if !pending {
			return true
		}
		// The ephemeral identity now forwards to the confirmed real id,
		// and its known profile fields enrich the real one. The mapping
		// lives on the account the ephemeral id is scoped to, which is
		// where later clicks arrive.
		ephConn := conn
		if owner, _, scoped := strings.Cut(eph, ScopeSep); scoped {
			if c, ok := p.registry.Get(owner); ok {
				ephConn = c
			}
		}
		if prof, ok := ephConn.Friend(eph); ok {
			prof.UserID = realID
			prof.RealID = ""
			conn.MergeFriend(realID, prof)
		}
		ephConn.MergeFriend(eph, UserProfile{UserID: eph, RealID: realID})
		p.registry.completeBind(realID)
		conn.log.Info().Str("real_id", realID).Str("ephemeral_id", eph).Msg("Identity bind confirmed")
		p.reply(conn, busEv, bindDoneText)
		return true
	}

	if rest, ok := strings.CutPrefix(text, bindCommand); ok {
		target := strings.TrimSpace(rest)
		if target == "" {
			return true
		}
		realID := ScopeID(selfID, target)
		p.registry.RequestBind(realID, busEv.Sender.UserID)
		conn.log.Info().Str("real_id", realID).Str("ephemeral_id", busEv.Sender.UserID).Msg("Identity bind requested")
		p.reply(conn, busEv, bindConfirmPrompt)
		return true
	}
	return false
}

// reply sends a short text response to a bus event, logging failures.
func (p *EventProcessor) reply(conn *Connection, busEv *BusEvent, text string) {
	if busEv.Reply == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(p.cfg.Bot.TimeoutMS)*time.Millisecond)
	defer cancel()
	if outcome, err := busEv.Reply(ctx, message.Text(text)); err != nil {
		conn.log.Warn().Err(err).Msg("Reply send failed")
	} else if !outcome.OK() {
		conn.log.Warn().Errs("errors", outcome.Errors).Msg("Reply delivered with errors")
	}
}

func (p *EventProcessor) handleNotice(conn *Connection, ev *qqbot.Event) {
	if ev.NoticeType == "action" {
		p.resolveClick(conn, ev)
		return
	}
	selfID := conn.ID()
	busEv := &BusEvent{
		SelfID:      selfID,
		PostType:    "notice",
		MessageType: ev.NoticeType,
		SubType:     ev.SubType,
		MessageID:   ev.NoticeID,
		Time:        time.Now(),
		Raw:         ev,
	}
	if ev.GroupID != "" {
		busEv.GroupID = ScopeID(selfID, ev.GroupID)
	} else if ev.GuildID != "" {
		busEv.GroupID = ScopeID(selfID, ScopeChannelID(ev.GuildID, ev.ChannelID))
	}
	if ev.UserID != "" {
		busEv.Sender = UserProfile{UserID: ScopeID(selfID, ev.UserID)}
	}
	conn.log.Debug().Str("notice_type", ev.NoticeType).Str("sub_type", ev.SubType).Msg("Notice received")
	p.bus.Emit(busEv.Key(), busEv)
}

// resolveClick maps a button interaction back to its captured context and
// redispatches the stored text as an inbound message. Every path
// acknowledges the platform exactly once; the acknowledgment is guarded so
// its own failure cannot propagate.
func (p *EventProcessor) resolveClick(conn *Connection, ev *qqbot.Event) {
	acked := false
	ack := func(code int) {
		if acked {
			return
		}
		acked = true
		if ev.Ack == nil {
			return
		}
		if err := ev.Ack(code); err != nil {
			conn.log.Warn().Err(err).Int("code", code).Msg("Interaction ack failed")
		}
	}
	defer ack(qqbot.AckFailure)

	if ev.Data == nil {
		ack(qqbot.AckFailure)
		return
	}
	buttonID := ev.Data.Resolved.ButtonID
	selfID := conn.ID()
	clicker := ScopeID(selfID, ev.UserID)

	entry, found := conn.callbacks.take(buttonID)
	if !found {
		// Expired or foreign button: fall back to the payload text.
		if data := ev.Data.Resolved.ButtonData; data != "" {
			p.dispatchSynthetic(conn, ev, clicker, "", "", data, nil)
			ack(qqbot.AckSuccess)
			return
		}
		conn.log.Debug().Str("button_id", buttonID).Msg("Click on unknown button")
		ack(qqbot.AckDuplicate)
		return
	}

	if entry.SelfID != "" && entry.SelfID != selfID {
		// Cross-account callback: the owning account can only attribute
		// the click to an identity it knows, so a clicker without a
		// bound real id runs the bind handshake first.
		clickUser := resolveRealID(conn, clicker)
		if clickUser == clicker {
			p.promptBind(conn, ev, entry, clicker)
			ack(qqbot.AckSuccess)
			return
		}
		target, ok := p.registry.Get(entry.SelfID)
		if !ok {
			conn.log.Warn().Str("account_id", entry.SelfID).Msg("Cross-account callback target offline")
			ack(qqbot.AckFailure)
			return
		}
		p.dispatchSynthetic(target, ev, clickUser, entry.GroupID, entry.MessageID, entry.Message, entry.ProducedIDs)
		ack(qqbot.AckSuccess)
		return
	}

	// Local context: any operator may click; the redelivery is attributed
	// to the clicker, not to the user the button was rendered for.
	p.dispatchSynthetic(conn, ev, clicker, entry.GroupID, entry.MessageID, entry.Message, entry.ProducedIDs)
	ack(qqbot.AckSuccess)
}

// promptBind records the pending bind request and prompts the clicker,
// once per identity per connection.
func (p *EventProcessor) promptBind(conn *Connection, ev *qqbot.Event, entry *CallbackEntry, clicker string) {
	p.registry.RequestBind(entry.UserID, clicker)
	conn.mu.Lock()
	prompted := conn.bindPrompted[clicker]
	conn.bindPrompted[clicker] = true
	conn.mu.Unlock()
	if prompted {
		return
	}
	// Interaction events may omit the group id the button lives in; the
	// entry remembers it.
	prompt := *ev
	if prompt.GroupID == "" && entry.GroupID != "" {
		prompt.GroupID = UnscopeID(conn.ID(), entry.GroupID)
	}
	busEv := &BusEvent{SelfID: conn.ID(), Reply: p.replyFunc(conn, &prompt, clickChat(entry))}
	p.reply(conn, busEv, bindPromptText)
}

func clickChat(entry *CallbackEntry) ChatType {
	if entry.GroupID != "" {
		return ChatGroup
	}
	return ChatFriend
}

// dispatchSynthetic redelivers captured button text as a normal inbound
// message from the original user, threading the reply chain when known.
func (p *EventProcessor) dispatchSynthetic(conn *Connection, src *qqbot.Event, scopedUser, scopedGroup, messageID, text string, producedIDs *[]string) {
	selfID := conn.ID()
	synthetic := &qqbot.Event{
		PostType:   "message",
		MessageID:  messageID,
		EventID:    src.EventID,
		UserID:     UnscopeID(selfID, scopedUser),
		Message:    []message.Segment{message.Text(text)},
		RawMessage: text,
		Sender:     src.Sender,
	}
	if scopedGroup != "" {
		raw := UnscopeID(selfID, scopedGroup)
		if IsGuildID(raw) {
			synthetic.MessageType = "guild"
			synthetic.GuildID, synthetic.ChannelID = ParseChannelID(raw)
			synthetic.UserID = UnscopeGuildUserID(synthetic.UserID)
		} else {
			synthetic.MessageType = "group"
			synthetic.GroupID = raw
		}
	} else {
		synthetic.MessageType = "private"
	}
	if producedIDs != nil && len(*producedIDs) > 0 {
		chain := make([]message.Segment, 0, len(*producedIDs)+len(synthetic.Message))
		for _, id := range *producedIDs {
			chain = append(chain, message.Reply(id))
		}
		synthetic.Message = append(chain, synthetic.Message...)
	}
	if synthetic.MessageID == "" && src.EventID != "" {
		synthetic.MessageID = "event_" + src.EventID
	}
	p.handleMessage(conn, synthetic)
}
