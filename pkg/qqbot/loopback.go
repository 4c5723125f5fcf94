// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package qqbot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// LoopbackClient is an in-memory TransportClient. It accepts every call,
// records sent element groups and returns generated message ids. It backs
// the dry-run mode of the bridge binary and the adapter test suites; a real
// deployment swaps in a platform transport implementation.
type LoopbackClient struct {
	Opts ClientOptions

	mu      sync.Mutex
	started bool
	seq     int
	sent    []SentGroup
	sink    func(*Event)

	// Overridable failure injection for tests. Nil means succeed.
	SendErr   func(chat string) error
	RecallErr func(messageID string) error
	UploadErr error
	StartErr  error
	// SelfInfo returned by GetSelfInfo.
	Self SelfInfo
}

// SentGroup records one platform send call.
type SentGroup struct {
	Chat     string // "private", "group", "guild", "direct"
	TargetID string
	Elements []Element
	Reply    *ReplyContext
}

var _ TransportClient = (*LoopbackClient)(nil)

// NewLoopbackClient builds a loopback client; usable as a ClientFactory.
func NewLoopbackClient(opts ClientOptions) TransportClient {
	return &LoopbackClient{
		Opts: opts,
		Self: SelfInfo{ID: opts.AppID, Username: "loopback"},
	}
}

func (c *LoopbackClient) Start(ctx context.Context) error {
	if c.StartErr != nil {
		return c.StartErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *LoopbackClient) Stop(context.Context) error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	return nil
}

func (c *LoopbackClient) GetSelfInfo(context.Context) (*SelfInfo, error) {
	self := c.Self
	return &self, nil
}

func (c *LoopbackClient) GetAccessToken(context.Context) (string, error) {
	return "loopback-token", nil
}

func (c *LoopbackClient) send(chat, target string, els []Element, reply *ReplyContext) (*SendResult, error) {
	if c.SendErr != nil {
		if err := c.SendErr(chat); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.sent = append(c.sent, SentGroup{Chat: chat, TargetID: target, Elements: els, Reply: reply})
	return &SendResult{ID: fmt.Sprintf("loopback-%d", c.seq)}, nil
}

func (c *LoopbackClient) SendPrivateMessage(_ context.Context, userID string, els []Element, reply *ReplyContext) (*SendResult, error) {
	return c.send("private", userID, els, reply)
}

func (c *LoopbackClient) SendGroupMessage(_ context.Context, groupID string, els []Element, reply *ReplyContext) (*SendResult, error) {
	return c.send("group", groupID, els, reply)
}

func (c *LoopbackClient) SendGuildMessage(_ context.Context, channelID string, els []Element, reply *ReplyContext) (*SendResult, error) {
	return c.send("guild", channelID, els, reply)
}

func (c *LoopbackClient) SendDirectMessage(_ context.Context, guildID string, els []Element, reply *ReplyContext) (*SendResult, error) {
	return c.send("direct", guildID, els, reply)
}

func (c *LoopbackClient) recall(messageID string) error {
	if c.RecallErr != nil {
		return c.RecallErr(messageID)
	}
	return nil
}

func (c *LoopbackClient) RecallFriendMessage(_ context.Context, _, messageID string) error {
	return c.recall(messageID)
}

func (c *LoopbackClient) RecallGroupMessage(_ context.Context, _, messageID string) error {
	return c.recall(messageID)
}

func (c *LoopbackClient) RecallGuildMessage(_ context.Context, _, messageID string, _ bool) error {
	return c.recall(messageID)
}

func (c *LoopbackClient) RecallDirectMessage(_ context.Context, _, messageID string, _ bool) error {
	return c.recall(messageID)
}

func (c *LoopbackClient) UploadImage(context.Context, []byte) (*UploadResult, error) {
	if c.UploadErr != nil {
		return nil, c.UploadErr
	}
	return &UploadResult{URL: "https://loopback.invalid/image"}, nil
}

func (c *LoopbackClient) UploadRecord(context.Context, []byte) (string, error) {
	if c.UploadErr != nil {
		return "", c.UploadErr
	}
	return "https://loopback.invalid/record", nil
}

func (c *LoopbackClient) CreateDirectSession(_ context.Context, guildID, userID string) (*DirectSession, error) {
	return &DirectSession{GuildID: guildID, ChannelID: "dm-" + userID}, nil
}

func (c *LoopbackClient) OnEvent(fn func(*Event)) {
	c.mu.Lock()
	c.sink = fn
	c.mu.Unlock()
}

func (c *LoopbackClient) DispatchWebhookEvent(_ string, payload json.RawMessage) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	sink(&ev)
}

// Emit delivers a synthetic inbound event, for tests and dry runs.
func (c *LoopbackClient) Emit(ev *Event) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Started reports whether the client holds an open session.
func (c *LoopbackClient) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Sent returns a copy of the recorded send calls.
func (c *LoopbackClient) Sent() []SentGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]SentGroup, len(c.sent))
	copy(cp, c.sent)
	return cp
}

// ResetSent clears the recorded send calls.
func (c *LoopbackClient) ResetSent() {
	c.mu.Lock()
	c.sent = nil
	c.seq = 0
	c.mu.Unlock()
}
