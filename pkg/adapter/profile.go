// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

// UserProfile is the merged view of a platform user as seen by one account.
// Profiles accumulate from partial event data; see Merge.
type UserProfile struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
	Card     string `json:"card,omitempty"`
	Avatar   string `json:"avatar,omitempty"`

	// RealID is the account-scoped id an ephemeral interaction identity
	// has been bound to, if any.
	RealID string `json:"real_id,omitempty"`

	// Guild conversation coordinates, kept for direct-message routing.
	GuildID    string `json:"guild_id,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
	SrcGuildID string `json:"src_guild_id,omitempty"`
}

// Merge returns a new profile with the non-empty fields of in laid over p.
// Earlier data survives unless the update carries a replacement, so partial
// event payloads never erase known fields.
func (p UserProfile) Merge(in UserProfile) UserProfile {
	if in.UserID != "" {
		p.UserID = in.UserID
	}
	if in.Nickname != "" {
		p.Nickname = in.Nickname
	}
	if in.Card != "" {
		p.Card = in.Card
	}
	if in.Avatar != "" {
		p.Avatar = in.Avatar
	}
	if in.RealID != "" {
		p.RealID = in.RealID
	}
	if in.GuildID != "" {
		p.GuildID = in.GuildID
	}
	if in.ChannelID != "" {
		p.ChannelID = in.ChannelID
	}
	if in.SrcGuildID != "" {
		p.SrcGuildID = in.SrcGuildID
	}
	return p
}

// GroupProfile is the merged view of a group.
type GroupProfile struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name,omitempty"`
}

// Merge returns a new group profile with non-empty fields of in laid over g.
func (g GroupProfile) Merge(in GroupProfile) GroupProfile {
	if in.GroupID != "" {
		g.GroupID = in.GroupID
	}
	if in.Name != "" {
		g.Name = in.Name
	}
	return g
}
