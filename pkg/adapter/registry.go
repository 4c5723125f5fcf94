// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// Connection is the live state of one connected account. It exists exactly
// as long as the account is registered with a completed handshake.
type Connection struct {
	Account   AccountSpec
	Client    qqbot.TransportClient
	Info      qqbot.SelfInfo
	Intents   qqbot.Intent
	StartTime time.Time

	log zerolog.Logger

	mu      sync.RWMutex
	friends map[string]UserProfile
	groups  map[string]GroupProfile
	members map[string]map[string]UserProfile

	callbacks    *callbackTable
	bindPrompted map[string]bool

	// sendSem serializes sends so groups of one batch reach the platform
	// in encoder-output order. Weighted so waiting is context-aware.
	sendSem *semaphore.Weighted
}

// ID is the registry id of the owning account.
func (c *Connection) ID() string {
	return c.Account.ID
}

// Friend returns the merged profile for a scoped user id.
func (c *Connection) Friend(userID string) (UserProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.friends[userID]
	return p, ok
}

// MergeFriend merges a partial profile into the friend map.
func (c *Connection) MergeFriend(userID string, in UserProfile) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.friends[userID] = c.friends[userID].Merge(in)
}

// Group returns the merged profile for a scoped group id.
func (c *Connection) Group(groupID string) (GroupProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[groupID]
	return g, ok
}

// MergeGroup merges a partial profile into the group map.
func (c *Connection) MergeGroup(groupID string, in GroupProfile) {
	if groupID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	in.GroupID = groupID
	c.groups[groupID] = c.groups[groupID].Merge(in)
}

// Member returns the merged member profile, falling back through the friend
// map for fields the member record lacks.
func (c *Connection) Member(groupID, userID string) (UserProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	base, known := c.friends[userID]
	if gm, ok := c.members[groupID]; ok {
		if m, ok := gm[userID]; ok {
			return base.Merge(m), true
		}
	}
	return base, known
}

// MergeMember merges a partial profile into the group member map.
func (c *Connection) MergeMember(groupID, userID string, in UserProfile) {
	if groupID == "" || userID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	gm, ok := c.members[groupID]
	if !ok {
		gm = make(map[string]UserProfile)
		c.members[groupID] = gm
	}
	gm[userID] = gm[userID].Merge(in)
}

// MemberMap returns a snapshot of the member map for a group.
func (c *Connection) MemberMap(groupID string) map[string]UserProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	gm := c.members[groupID]
	out := make(map[string]UserProfile, len(gm))
	for k, v := range gm {
		out[k] = v
	}
	return out
}

// AvatarURL is the platform avatar endpoint for a raw user id.
func (c *Connection) AvatarURL(userID string) string {
	return "https://q.qlogo.cn/qqapp/" + c.Account.AppID + "/" + userID + "/0"
}

// Registry owns per-account connections. One Registry value is constructed
// at startup and passed to every consumer; there is no ambient global.
type Registry struct {
	cfg     *Config
	bus     EventBus
	factory qqbot.ClientFactory
	log     zerolog.Logger

	// onEvent receives raw transport events for registered connections.
	// Set once during wiring, before any Connect call.
	onEvent func(conn *Connection, ev *qqbot.Event)

	mu      sync.RWMutex
	conns   map[string]*Connection
	byAppID map[string]*Connection

	bindMu sync.Mutex
	// bindRequests maps a target real (scoped) id to the ephemeral
	// interaction id asking to be bound to it.
	bindRequests map[string]string
}

// NewRegistry builds an empty account registry.
func NewRegistry(cfg *Config, bus EventBus, factory qqbot.ClientFactory, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:          cfg,
		bus:          bus,
		factory:      factory,
		log:          log.With().Str("component", "registry").Logger(),
		conns:        make(map[string]*Connection),
		byAppID:      make(map[string]*Connection),
		bindRequests: make(map[string]string),
	}
}

// HandleEventsWith installs the raw event handler. Wiring calls this once
// before the first Connect.
func (r *Registry) HandleEventsWith(fn func(conn *Connection, ev *qqbot.Event)) {
	r.onEvent = fn
}

// rawFrameFilter drops transport raw-frame traces, which would otherwise
// dominate the log at debug level.
type rawFrameFilter struct{}

func (rawFrameFilter) Run(e *zerolog.Event, _ zerolog.Level, msg string) {
	if strings.HasPrefix(msg, "recv from") {
		e.Discard()
	}
}

// intentsFor derives the connection intent bitset from the account flags.
func intentsFor(spec AccountSpec) qqbot.Intent {
	intents := qqbot.IntentGuilds |
		qqbot.IntentGuildMembers |
		qqbot.IntentGuildMessageReactions |
		qqbot.IntentDirectMessage |
		qqbot.IntentInteraction |
		qqbot.IntentMessageAudit
	if spec.Group {
		intents |= qqbot.IntentGroupAndC2CMessages
	}
	if spec.GuildMessages {
		intents |= qqbot.IntentGuildMessages
	} else {
		intents |= qqbot.IntentPublicGuildMessages
	}
	return intents
}

// Connect brings one account online. It returns false on any failure and
// leaves the registry unchanged; a partially-initialized connection is
// never visible to other components.
func (r *Registry) Connect(ctx context.Context, spec AccountSpec) bool {
	log := r.log.With().Str("account_id", spec.ID).Logger()
	intents := intentsFor(spec)

	client := r.factory(qqbot.ClientOptions{
		AppID:   spec.AppID,
		Token:   spec.Token,
		Secret:  spec.Secret,
		Intents: intents,
		Sandbox: spec.Sandbox,
		Timeout: r.cfg.Bot.TimeoutMS,
		Logger:  log.Hook(rawFrameFilter{}),
	})

	conn := &Connection{
		Account:      spec,
		Client:       client,
		Intents:      intents,
		StartTime:    time.Now(),
		log:          log,
		friends:      make(map[string]UserProfile),
		groups:       make(map[string]GroupProfile),
		members:      make(map[string]map[string]UserProfile),
		callbacks:    newCallbackTable(),
		bindPrompted: make(map[string]bool),
		sendSem:      semaphore.NewWeighted(1),
	}

	if spec.ClientCredential {
		// Token-only account: no persistent session. Fetching the
		// access token validates the credentials; events arrive over
		// the webhook endpoint.
		if _, err := client.GetAccessToken(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to fetch access token")
			return false
		}
	} else {
		handshakeCtx, cancel := context.WithTimeout(ctx,
			time.Duration(r.cfg.Bot.HandshakeTimeoutSeconds)*time.Second)
		err := client.Start(handshakeCtx)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("intents", intents.String()).Msg("Connection handshake failed")
			return false
		}
	}

	info, err := client.GetSelfInfo(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch self info")
		if !spec.ClientCredential {
			_ = client.Stop(ctx)
		}
		return false
	}
	conn.Info = *info
	if conn.Info.ID == "" {
		conn.Info.ID = spec.ID
	}
	if conn.Info.Avatar == "" {
		conn.Info.Avatar = "https://q.qlogo.cn/g?b=qq&s=0&nk=" + spec.ID
	}

	client.OnEvent(func(ev *qqbot.Event) {
		if handler := r.onEvent; handler != nil {
			handler(conn, ev)
		}
	})

	r.mu.Lock()
	old := r.conns[spec.ID]
	r.conns[spec.ID] = conn
	r.byAppID[spec.AppID] = conn
	r.mu.Unlock()
	if old != nil {
		// Reconnect over a live registration: the replaced connection
		// releases its transport and pending callback timers.
		if !old.Account.ClientCredential {
			if err := old.Client.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("Stopping replaced connection failed")
			}
		}
		old.callbacks.clear()
		log.Info().Msg("Replaced existing connection")
	}

	log.Info().Str("nickname", conn.Info.Username).Msg("Account connected")
	r.bus.Emit("connect."+spec.ID, &BusEvent{
		SelfID:   spec.ID,
		PostType: "connect",
		Time:     time.Now(),
	})
	return true
}

// Disconnect takes an account offline. Unknown ids are a no-op.
func (r *Registry) Disconnect(ctx context.Context, id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		delete(r.byAppID, conn.Account.AppID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if !conn.Account.ClientCredential {
		if err := conn.Client.Stop(ctx); err != nil {
			conn.log.Warn().Err(err).Msg("Transport stop failed")
		}
	}
	conn.callbacks.clear()
	r.log.Info().Str("account_id", id).Msg("Account disconnected")
}

// Get returns the connection for a registered account id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// ByAppID resolves the connection owning a platform application id, used by
// the webhook dispatcher.
func (r *Registry) ByAppID(appID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byAppID[appID]
	return conn, ok
}

// Connections returns a snapshot of all live connections.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// RequestBind records that the ephemeral interaction id asks to be bound to
// the given real scoped id. The clicker confirms through the bind-confirm
// command delivered via a button callback.
func (r *Registry) RequestBind(realID, ephemeralID string) {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	r.bindRequests[realID] = ephemeralID
}

// bindRequestFor returns the pending ephemeral id for a real id.
func (r *Registry) bindRequestFor(realID string) (string, bool) {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	eph, ok := r.bindRequests[realID]
	return eph, ok
}

// completeBind removes a satisfied bind request.
func (r *Registry) completeBind(realID string) {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	delete(r.bindRequests, realID)
}
