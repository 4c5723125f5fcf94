// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// Options carries the collaborators an Adapter is wired with. Config and
// ClientFactory are required; Bus defaults to a ChannelBus and LinkResolver
// may be nil.
type Options struct {
	Config        *Config
	Bus           EventBus
	ClientFactory qqbot.ClientFactory
	LinkResolver  LinkResolver
	Logger        zerolog.Logger
}

// Adapter aggregates the bridge components around one shared Config. All
// cross-component references are established here; no component reaches
// for a global.
type Adapter struct {
	Config   *Config
	Bus      EventBus
	Registry *Registry
	Media    *MediaPipeline
	Encoder  *Encoder
	Delivery *DeliveryCoordinator
	Events   *EventProcessor
	Webhook  *WebhookDispatcher

	log zerolog.Logger
}

// New wires the component graph.
func New(opts Options) *Adapter {
	cfg := opts.Config
	bus := opts.Bus
	if bus == nil {
		bus = NewChannelBus(256)
	}
	log := opts.Logger

	registry := NewRegistry(cfg, bus, opts.ClientFactory, log)
	media := NewMediaPipeline(cfg, registry, opts.LinkResolver, log)
	encoder := NewEncoder(cfg, media, log)
	delivery := NewDeliveryCoordinator(cfg, encoder, log)
	events := NewEventProcessor(cfg, registry, delivery, bus, log)
	registry.HandleEventsWith(events.HandleEvent)

	return &Adapter{
		Config:   cfg,
		Bus:      bus,
		Registry: registry,
		Media:    media,
		Encoder:  encoder,
		Delivery: delivery,
		Events:   events,
		Webhook:  NewWebhookDispatcher(registry, log),
		log:      log.With().Str("component", "adapter").Logger(),
	}
}

// ConnectAll connects every enabled configured account, returning how many
// came online. Per-account failures are logged inside Connect and do not
// stop the rest.
func (a *Adapter) ConnectAll(ctx context.Context) int {
	connected := 0
	for _, spec := range a.Config.Accounts {
		if !spec.Enabled {
			continue
		}
		if a.Registry.Connect(ctx, spec) {
			connected++
		}
	}
	return connected
}

// Close disconnects every account.
func (a *Adapter) Close(ctx context.Context) {
	for _, conn := range a.Registry.Connections() {
		a.Registry.Disconnect(ctx, conn.ID())
	}
}

// encodeContextFor resolves a scoped destination id to an encode context.
// Guild-prefixed ids route to channels or direct sessions; everything else
// to groups or friends.
func (a *Adapter) encodeContextFor(selfID, targetID string, private bool) (*EncodeContext, error) {
	conn, ok := a.Registry.Get(selfID)
	if !ok {
		return nil, fmt.Errorf("account %s not connected", selfID)
	}
	raw := UnscopeID(selfID, targetID)
	switch {
	case private && IsGuildID(raw):
		ectx := NewEncodeContext(conn, ChatDirect)
		ectx.UserID = UnscopeGuildUserID(raw)
		if p, ok := conn.Friend(ScopeID(selfID, raw)); ok {
			ectx.GuildID = p.GuildID
			ectx.SrcGuildID = p.SrcGuildID
		}
		return ectx, nil
	case private:
		ectx := NewEncodeContext(conn, ChatFriend)
		ectx.UserID = raw
		return ectx, nil
	case IsGuildID(raw):
		ectx := NewEncodeContext(conn, ChatGuild)
		ectx.GuildID, ectx.ChannelID = ParseChannelID(raw)
		return ectx, nil
	default:
		ectx := NewEncodeContext(conn, ChatGroup)
		ectx.GroupID = raw
		return ectx, nil
	}
}

// SendPrivateMessage delivers segments to a scoped user id, routing
// guild-prefixed ids through a direct session.
func (a *Adapter) SendPrivateMessage(ctx context.Context, selfID, userID string, segs []message.Segment) (*SendOutcome, error) {
	ectx, err := a.encodeContextFor(selfID, userID, true)
	if err != nil {
		return nil, err
	}
	return a.Delivery.Send(ctx, ectx, segs)
}

// SendGroupMessage delivers segments to a scoped group or channel id.
func (a *Adapter) SendGroupMessage(ctx context.Context, selfID, groupID string, segs []message.Segment) (*SendOutcome, error) {
	ectx, err := a.encodeContextFor(selfID, groupID, false)
	if err != nil {
		return nil, err
	}
	return a.Delivery.Send(ctx, ectx, segs)
}

// RecallMessages withdraws message ids from a destination, one result per
// id.
func (a *Adapter) RecallMessages(ctx context.Context, selfID, targetID string, private bool, ids []string) ([]bool, error) {
	ectx, err := a.encodeContextFor(selfID, targetID, private)
	if err != nil {
		return nil, err
	}
	return a.Delivery.Recall(ctx, ectx, ids), nil
}
