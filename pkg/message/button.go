// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package message

// ButtonSpec describes one interactive button in platform-agnostic terms.
// Exactly one of Input, Callback or Link selects the action variant; a spec
// with none of them is invalid and is dropped at encode time.
type ButtonSpec struct {
	// Text is the button label; ClickedText replaces it after a click.
	Text        string `json:"text"`
	ClickedText string `json:"clicked_text,omitempty"`

	// Input prefills the chat input box with the given text. Send makes
	// the client submit it immediately.
	Input string `json:"input,omitempty"`
	Send  bool   `json:"send,omitempty"`

	// Callback redelivers the given text to the bot when the button is
	// clicked, correlated back to the originating message context.
	Callback string `json:"callback,omitempty"`

	// Link opens a URL.
	Link string `json:"link,omitempty"`

	// Permission restricts who may click. Nil means open to anyone.
	Permission *ButtonPermissionSpec `json:"permission,omitempty"`
}

// ButtonPermissionSpec narrows a button to a permission tier. Admin wins
// over UserIDs when both are set.
type ButtonPermissionSpec struct {
	// Admin restricts the button to group administrators.
	Admin bool `json:"admin,omitempty"`
	// UserIDs is an explicit allow-list. Entries may carry an account
	// scope prefix ("<selfID>:<id>"); the prefix is stripped before the
	// ids are sent to the platform.
	UserIDs []string `json:"user_ids,omitempty"`
}
