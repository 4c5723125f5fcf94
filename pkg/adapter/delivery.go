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

// SendOutcome aggregates the results of one delivery batch. A failed batch
// is reported through Errors, never as a panic or a lone error return, so
// partial results stay observable.
type SendOutcome struct {
	MessageIDs []string
	Responses  []*qqbot.SendResult
	Errors     []error
}

// OK reports whether the batch completed without errors.
func (o *SendOutcome) OK() bool {
	return len(o.Errors) == 0
}

// DeliveryCoordinator drives the encoder and the transport client for
// outbound messages: strategy selection, ordered group sends, the
// downgrade-to-plain retry and message recall.
type DeliveryCoordinator struct {
	cfg *Config
	enc *Encoder
	log zerolog.Logger
}

func NewDeliveryCoordinator(cfg *Config, enc *Encoder, log zerolog.Logger) *DeliveryCoordinator {
	return &DeliveryCoordinator{
		cfg: cfg,
		enc: enc,
		log: log.With().Str("component", "delivery").Logger(),
	}
}

// splitReply extracts the reply reference the encoder prefixed onto a
// group, returning the remaining wire elements by value.
func splitReply(group []*qqbot.Element) ([]qqbot.Element, *qqbot.ReplyContext) {
	var reply *qqbot.ReplyContext
	els := make([]qqbot.Element, 0, len(group))
	for _, el := range group {
		if el.Type == qqbot.ElementReply && reply == nil {
			reply = &qqbot.ReplyContext{MessageID: el.ID, EventID: el.EventID}
			continue
		}
		els = append(els, *el)
	}
	return els, reply
}

// Send encodes and delivers segments to the destination in ectx. Groups go
// out sequentially in encoder order; a failure in a group or friend
// destination aborts the batch and triggers exactly one full re-encode and
// resend with the plain strategy. All failures land in the outcome's error
// list. The per-connection semaphore keeps one batch in flight per account.
func (d *DeliveryCoordinator) Send(ctx context.Context, ectx *EncodeContext, segs []message.Segment) (*SendOutcome, error) {
	conn := ectx.Conn
	if err := conn.sendSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer conn.sendSem.Release(1)

	outcome := &SendOutcome{}
	guildLike := ectx.Chat == ChatGuild || ectx.Chat == ChatDirect

	groups, err := d.enc.Encode(ctx, ectx, segs)
	if err == nil {
		err = d.sendGroups(ctx, ectx, groups, outcome, !guildLike)
	}
	if err == nil {
		return outcome, nil
	}
	outcome.Errors = append(outcome.Errors, err)

	strategy, _ := d.cfg.StrategyFor(ectx.SelfID)
	if guildLike || strategy == StrategyPlain {
		return outcome, nil
	}

	d.log.Warn().Err(err).
		Str("account_id", ectx.SelfID).
		Str("strategy", strategy.String()).
		Msg("Send failed, retrying with plain strategy")
	groups, perr := d.enc.EncodePlain(ctx, ectx, segs)
	if perr == nil {
		perr = d.sendGroups(ctx, ectx, groups, outcome, true)
	}
	if perr != nil {
		outcome.Errors = append(outcome.Errors, perr)
	}
	return outcome, nil
}

// sendGroups delivers groups in order. With abortOnError the first failure
// stops the batch; otherwise failures are recorded per group and delivery
// continues, which is the guild behavior where no fallback exists.
func (d *DeliveryCoordinator) sendGroups(ctx context.Context, ectx *EncodeContext, groups [][]*qqbot.Element, outcome *SendOutcome, abortOnError bool) error {
	for _, group := range groups {
		els, reply := splitReply(group)
		if len(els) == 0 {
			continue
		}
		res, err := d.sendGroup(ctx, ectx, els, reply)
		if err != nil {
			if abortOnError {
				return err
			}
			outcome.Errors = append(outcome.Errors, err)
			continue
		}
		if res != nil {
			outcome.Responses = append(outcome.Responses, res)
			if res.ID != "" {
				outcome.MessageIDs = append(outcome.MessageIDs, res.ID)
				ectx.RecordProducedID(res.ID)
			}
		}
	}
	return nil
}

func (d *DeliveryCoordinator) sendGroup(ctx context.Context, ectx *EncodeContext, els []qqbot.Element, reply *qqbot.ReplyContext) (*qqbot.SendResult, error) {
	client := ectx.Conn.Client
	switch ectx.Chat {
	case ChatFriend:
		return client.SendPrivateMessage(ctx, ectx.UserID, els, reply)
	case ChatGroup:
		return client.SendGroupMessage(ctx, ectx.GroupID, els, reply)
	case ChatGuild:
		return client.SendGuildMessage(ctx, ectx.ChannelID, els, reply)
	case ChatDirect:
		if ectx.GuildID == "" {
			session, err := client.CreateDirectSession(ctx, ectx.SrcGuildID, ectx.UserID)
			if err != nil {
				return nil, err
			}
			ectx.GuildID = session.GuildID
			ectx.ChannelID = session.ChannelID
		}
		return client.SendDirectMessage(ctx, ectx.GuildID, els, reply)
	}
	return nil, nil
}

// Recall withdraws previously sent messages best-effort: one result per id,
// failures logged and recorded without aborting the rest.
func (d *DeliveryCoordinator) Recall(ctx context.Context, ectx *EncodeContext, ids []string) []bool {
	client := ectx.Conn.Client
	hide := d.cfg.HideGuildRecall
	results := make([]bool, len(ids))
	for i, id := range ids {
		id = UnscopeID(ectx.SelfID, id)
		var err error
		switch ectx.Chat {
		case ChatFriend:
			err = client.RecallFriendMessage(ctx, ectx.UserID, id)
		case ChatGroup:
			err = client.RecallGroupMessage(ctx, ectx.GroupID, id)
		case ChatGuild:
			err = client.RecallGuildMessage(ctx, ectx.ChannelID, id, hide)
		case ChatDirect:
			err = client.RecallDirectMessage(ctx, ectx.GuildID, id, hide)
		}
		if err != nil {
			d.log.Warn().Err(err).Str("message_id", id).Msg("Recall failed")
			continue
		}
		results[i] = true
	}
	return results
}
