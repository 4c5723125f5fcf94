// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package qqbot

// ActionType selects what a button click does.
type ActionType int

const (
	// ActionLink opens a URL.
	ActionLink ActionType = 0
	// ActionCallback delivers an interaction event to the bot backend.
	ActionCallback ActionType = 1
	// ActionInput prefills the chat input box with Data; Enter submits it.
	ActionInput ActionType = 2
)

// PermissionType selects who may click a button.
type PermissionType int

const (
	// PermissionSpecify limits clicks to an explicit user id list.
	PermissionSpecify PermissionType = 0
	// PermissionAdmin limits clicks to group administrators.
	PermissionAdmin PermissionType = 1
	// PermissionEveryone allows anyone to click.
	PermissionEveryone PermissionType = 2
)

// Button is the wire shape of one interactive button.
type Button struct {
	ID         string        `json:"id"`
	RenderData RenderData    `json:"render_data"`
	Action     *ButtonAction `json:"action,omitempty"`
}

// RenderData holds the visual properties of a button.
type RenderData struct {
	Label        string `json:"label"`
	VisitedLabel string `json:"visited_label,omitempty"`
	Style        int    `json:"style"`
}

// ButtonAction describes the click behavior of a button.
type ButtonAction struct {
	Type       ActionType       `json:"type"`
	Permission ButtonPermission `json:"permission"`
	Data       string           `json:"data,omitempty"`
	Enter      bool             `json:"enter,omitempty"`
}

// ButtonPermission is the wire shape of a button permission scope.
type ButtonPermission struct {
	Type           PermissionType `json:"type"`
	SpecifyUserIDs []string       `json:"specify_user_ids,omitempty"`
}
