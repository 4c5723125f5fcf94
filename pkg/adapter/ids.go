// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import "strings"

// ScopeSep joins an account id and a raw platform id into a scoped id.
// Scoping keeps ids from different accounts distinct on the host bus.
const ScopeSep = ":"

// guildPrefix marks guild-scoped user and channel ids. Guild ids are
// globally unique on the platform, so they carry a fixed prefix instead of
// an account scope.
const guildPrefix = "qg_"

// ScopeID prefixes a raw platform id with the owning account id.
func ScopeID(selfID, id string) string {
	return selfID + ScopeSep + id
}

// UnscopeID strips the account-scope prefix from a scoped id. Ids without
// the prefix pass through unchanged, so raw platform ids stay usable.
func UnscopeID(selfID, id string) string {
	return strings.TrimPrefix(id, selfID+ScopeSep)
}

// ScopeGuildUserID prefixes a raw guild user id.
func ScopeGuildUserID(userID string) string {
	return guildPrefix + userID
}

// UnscopeGuildUserID strips the guild prefix from a user id.
func UnscopeGuildUserID(userID string) string {
	return strings.TrimPrefix(userID, guildPrefix)
}

// IsGuildID reports whether the id carries the guild prefix.
func IsGuildID(id string) bool {
	return strings.HasPrefix(id, guildPrefix)
}

// ScopeChannelID joins a guild id and channel id into one group-shaped id,
// so guild channels slot into the host's group model.
func ScopeChannelID(guildID, channelID string) string {
	return guildPrefix + guildID + "-" + channelID
}

// ParseChannelID splits a group-shaped guild channel id back into its guild
// and channel parts.
func ParseChannelID(id string) (guildID, channelID string) {
	trimmed := strings.TrimPrefix(id, guildPrefix)
	guildID, channelID, _ = strings.Cut(trimmed, "-")
	return guildID, channelID
}
