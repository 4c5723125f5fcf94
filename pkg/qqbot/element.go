// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package qqbot defines the QQ official-bot wire model and the
// transport-client capability surface the adapter consumes. The network
// transport itself (websocket session, REST calls) is an external
// collaborator implementing [TransportClient]; this package only fixes the
// shapes crossing that boundary.
package qqbot

import (
	"encoding/base64"
	"encoding/json"
)

// ElementType tags a wire element.
type ElementType string

const (
	ElementText     ElementType = "text"
	ElementAt       ElementType = "at"
	ElementImage    ElementType = "image"
	ElementAudio    ElementType = "audio"
	ElementVideo    ElementType = "video"
	ElementFace     ElementType = "face"
	ElementMarkdown ElementType = "markdown"
	ElementKeyboard ElementType = "button"
	ElementReply    ElementType = "reply"
	ElementArk      ElementType = "ark"
	ElementEmbed    ElementType = "embed"
)

// Element is one wire-level unit of a platform message. A group of elements
// is sent together as a single platform call.
type Element struct {
	Type ElementType `json:"type"`

	// Text content for ElementText.
	Text string `json:"text,omitempty"`
	// Mention target for ElementAt: a raw platform user id, or "all".
	QQ string `json:"qq,omitempty"`
	// Media source for image/audio/video: URL or base64:// data.
	File string `json:"file,omitempty"`
	// Face id for ElementFace, replied-to message id for ElementReply.
	ID string `json:"id,omitempty"`
	// Replied-to event id for ElementReply when the trigger was an
	// interaction rather than a message.
	EventID string `json:"event_id,omitempty"`
	// Raw markdown content for ElementMarkdown.
	Content string `json:"content,omitempty"`
	// Template id and placeholder bindings for templated markdown.
	TemplateID string          `json:"custom_template_id,omitempty"`
	Params     []MarkdownParam `json:"params,omitempty"`
	// One row of buttons for ElementKeyboard.
	Buttons []*Button `json:"buttons,omitempty"`
	// Structured payload for ark/embed passthrough.
	Data json.RawMessage `json:"data,omitempty"`
}

// MarkdownParam binds one template placeholder key to its values.
type MarkdownParam struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// Text builds a text element.
func Text(text string) Element {
	return Element{Type: ElementText, Text: text}
}

// At builds a mention element for guild channels.
func At(target string) Element {
	return Element{Type: ElementAt, QQ: target}
}

// Image builds an image element from a URL or base64:// source.
func Image(file string) Element {
	return Element{Type: ElementImage, File: file}
}

// Markdown builds a raw-content markdown element.
func Markdown(content string) Element {
	return Element{Type: ElementMarkdown, Content: content}
}

// Reply builds a reply-reference element. Ids produced by interaction
// events carry an "event_" prefix and are sent as event references.
func Reply(id string) Element {
	const eventPrefix = "event_"
	if len(id) > len(eventPrefix) && id[:len(eventPrefix)] == eventPrefix {
		return Element{Type: ElementReply, EventID: id[len(eventPrefix):]}
	}
	return Element{Type: ElementReply, ID: id}
}

// Base64File encodes raw media bytes as a base64:// source usable in the
// File field of an element.
func Base64File(data []byte) string {
	return "base64://" + base64.StdEncoding.EncodeToString(data)
}
