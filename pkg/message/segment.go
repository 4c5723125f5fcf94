// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package message defines the platform-agnostic chat message model: a
// composite outbound or inbound message is an ordered list of tagged
// segments. The adapter converts segment sequences into platform wire
// messages; inbound platform events are normalized back into segments.
package message

import "encoding/json"

// Type tags a segment variant.
type Type string

const (
	TypeText     Type = "text"
	TypeAt       Type = "at"
	TypeImage    Type = "image"
	TypeRecord   Type = "record"
	TypeVideo    Type = "video"
	TypeFace     Type = "face"
	TypeFile     Type = "file"
	TypeReply    Type = "reply"
	TypeMarkdown Type = "markdown"
	TypeButton   Type = "button"
	TypeNode     Type = "node"
	TypeRaw      Type = "raw"
	TypeArk      Type = "ark"
	TypeEmbed    Type = "embed"
)

// Segment is one tagged unit of a composite message. Only the fields
// relevant to the given Type are set.
type Segment struct {
	Type Type `json:"type"`

	// Text content for TypeText.
	Text string `json:"text,omitempty"`
	// Target user for TypeAt: a scoped user id, or "all".
	QQ string `json:"qq,omitempty"`
	// Media source for image/record/video/file: URL, local path or
	// base64:// data.
	File string `json:"file,omitempty"`
	// Display name for TypeFile.
	Name string `json:"name,omitempty"`
	// Alt text for TypeImage.
	Summary string `json:"summary,omitempty"`
	// Face id for TypeFace, message id for TypeReply.
	ID string `json:"id,omitempty"`
	// Markdown content for TypeMarkdown (string form).
	Content string `json:"content,omitempty"`
	// Structured markdown payload for TypeMarkdown (object form); passed
	// to the platform as-is.
	Data json.RawMessage `json:"data,omitempty"`
	// Button rows for TypeButton.
	Rows [][]ButtonSpec `json:"rows,omitempty"`
	// Nested messages for TypeNode.
	Nodes []ForwardNode `json:"nodes,omitempty"`
	// Platform-native wire content for TypeRaw, passed through encoding
	// untouched. Typed loosely to keep this package platform-agnostic.
	Raw any `json:"-"`
}

// ForwardNode is one entry of a forwarded-message segment.
type ForwardNode struct {
	UserID   string    `json:"user_id,omitempty"`
	Nickname string    `json:"nickname,omitempty"`
	Message  []Segment `json:"message"`
}

// Text builds a text segment.
func Text(text string) Segment {
	return Segment{Type: TypeText, Text: text}
}

// At builds an at-mention segment.
func At(target string) Segment {
	return Segment{Type: TypeAt, QQ: target}
}

// Image builds an image segment.
func Image(file string) Segment {
	return Segment{Type: TypeImage, File: file}
}

// Record builds a voice segment.
func Record(file string) Segment {
	return Segment{Type: TypeRecord, File: file}
}

// Reply builds a reply-reference segment.
func Reply(id string) Segment {
	return Segment{Type: TypeReply, ID: id}
}

// Button builds a button-group segment from rows of button specs.
func Button(rows ...[]ButtonSpec) Segment {
	return Segment{Type: TypeButton, Rows: rows}
}

// Summarize renders a segment sequence as a short human-readable string,
// used for the raw_message field of normalized events and for logs.
func Summarize(segs []Segment) string {
	var out []byte
	for _, seg := range segs {
		switch seg.Type {
		case TypeText:
			out = append(out, seg.Text...)
		case TypeAt:
			out = append(out, '@')
			out = append(out, seg.QQ...)
		case TypeImage:
			out = append(out, "[图片]"...)
		case TypeFace:
			out = append(out, "[表情]"...)
		case TypeRecord:
			out = append(out, "[语音]"...)
		case TypeVideo:
			out = append(out, "[视频]"...)
		case TypeReply:
			out = append(out, "[回复:"...)
			out = append(out, seg.ID...)
			out = append(out, ']')
		default:
			out = append(out, '[')
			out = append(out, seg.Type...)
			out = append(out, ']')
		}
	}
	return string(out)
}
