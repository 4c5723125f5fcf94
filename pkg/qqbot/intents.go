// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package qqbot

import "strings"

// Intent is one bit of the capability bitset negotiated at connection time.
// The bit positions match the platform gateway contract.
type Intent uint32

const (
	IntentGuilds                Intent = 1 << 0
	IntentGuildMembers          Intent = 1 << 1
	IntentGuildMessages         Intent = 1 << 9
	IntentGuildMessageReactions Intent = 1 << 10
	IntentDirectMessage         Intent = 1 << 12
	IntentGroupAndC2CMessages   Intent = 1 << 25
	IntentInteraction           Intent = 1 << 26
	IntentMessageAudit          Intent = 1 << 27
	IntentAudioAction           Intent = 1 << 29
	IntentPublicGuildMessages   Intent = 1 << 30
)

var intentNames = []struct {
	bit  Intent
	name string
}{
	{IntentGuilds, "GUILDS"},
	{IntentGuildMembers, "GUILD_MEMBERS"},
	{IntentGuildMessages, "GUILD_MESSAGES"},
	{IntentGuildMessageReactions, "GUILD_MESSAGE_REACTIONS"},
	{IntentDirectMessage, "DIRECT_MESSAGE"},
	{IntentGroupAndC2CMessages, "GROUP_AND_C2C_MESSAGES"},
	{IntentInteraction, "INTERACTION"},
	{IntentMessageAudit, "MESSAGE_AUDIT"},
	{IntentAudioAction, "AUDIO_ACTION"},
	{IntentPublicGuildMessages, "PUBLIC_GUILD_MESSAGES"},
}

// Has reports whether all bits of other are set in i.
func (i Intent) Has(other Intent) bool {
	return i&other == other
}

// String renders the set bits as a pipe-separated list of gateway names.
func (i Intent) String() string {
	var names []string
	for _, entry := range intentNames {
		if i.Has(entry.bit) {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}
