// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"strings"

	"github.com/rikkawa/qqbridge/pkg/adapter/mdfmt"
	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// maxKeyboardRows is the platform cap on keyboard elements per message.
const maxKeyboardRows = 5

// rawBuilder accumulates native markdown content plus keyboard rows.
// Keyboard rows past the per-message cap overflow into follow-up messages
// carried by a blank markdown element.
type rawBuilder struct {
	content   strings.Builder
	keyboards []*qqbot.Element
	groups    [][]*qqbot.Element
}

func (b *rawBuilder) text(s string) {
	b.content.WriteString(s)
}

func (b *rawBuilder) attach(els ...*qqbot.Element) {
	b.keyboards = append(b.keyboards, els...)
}

func (b *rawBuilder) addGroup(groups ...[]*qqbot.Element) {
	b.flush()
	b.groups = append(b.groups, groups...)
}

func (b *rawBuilder) flush() {
	if b.content.Len() == 0 && len(b.keyboards) == 0 {
		return
	}
	content := b.content.String()
	if content == "" {
		content = " "
	}
	rows := b.keyboards
	first := rows
	if len(first) > maxKeyboardRows {
		first = rows[:maxKeyboardRows]
	}
	md := qqbot.Markdown(content)
	group := append([]*qqbot.Element{&md}, first...)
	b.groups = append(b.groups, group)
	for rows = rows[len(first):]; len(rows) > 0; {
		n := len(rows)
		if n > maxKeyboardRows {
			n = maxKeyboardRows
		}
		carrier := qqbot.Markdown(" ")
		b.groups = append(b.groups, append([]*qqbot.Element{&carrier}, rows[:n]...))
		rows = rows[n:]
	}
	b.content.Reset()
	b.keyboards = nil
}

func (b *rawBuilder) finish() [][]*qqbot.Element {
	b.flush()
	return b.groups
}

// substituteRawURLs replaces matching URLs with the button placeholder,
// attaching a link button and inlining a hosted QR image for each.
func (e *Encoder) substituteRawURLs(ctx context.Context, ectx *EncodeContext, b *rawBuilder, text string) string {
	re := e.cfg.QRRegexp()
	if re == nil {
		return text
	}
	return re.ReplaceAllStringFunc(text, func(url string) string {
		if row := e.urlButtonRow(ectx, "", url); row != nil {
			b.attach(row)
		}
		out := qrButtonPlaceholder
		file, err := e.media.GenerateQRCode(url)
		if err != nil {
			e.log.Error().Err(err).Msg("QR generation failed")
			return out
		}
		des, link, err := e.media.MarkdownImage(ctx, file, "二维码")
		if err != nil {
			// The link button alone still gets the reader there.
			e.log.Debug().Err(err).Msg("QR hosting failed, button only")
			return out
		}
		return out + des + link
	})
}

// encodeRawMarkdown renders segments as native markdown for accounts whose
// template entry is "raw". All text lands in one markdown element per
// message; media that markdown cannot carry inline goes out as separate
// groups.
func (e *Encoder) encodeRawMarkdown(ctx context.Context, ectx *EncodeContext, segs []message.Segment) ([][]*qqbot.Element, error) {
	b := &rawBuilder{}
	var reply *qqbot.Element

	for _, seg := range segs {
		switch seg.Type {
		case message.TypeText:
			b.text(e.substituteRawURLs(ctx, ectx, b, mdfmt.EscapeAt(seg.Text)))
		case message.TypeAt:
			target := UnscopeID(ectx.SelfID, seg.QQ)
			if target == "all" {
				b.text("@everyone")
			} else {
				b.text("<@" + target + ">")
			}
		case message.TypeFace:
			b.text("<emoji:" + seg.ID + ">")
		case message.TypeImage:
			des, url, err := e.media.MarkdownImage(ctx, seg.File, seg.Summary)
			if err != nil {
				e.log.Error().Err(err).Msg("Inline image hosting failed, sending separately")
				el := qqbot.Image(e.media.PrepareImage(ctx, seg.File))
				b.addGroup([]*qqbot.Element{&el})
				continue
			}
			b.text(des + url)
		case message.TypeRecord:
			b.addGroup([]*qqbot.Element{{Type: qqbot.ElementAudio, File: e.media.PrepareVoice(ctx, seg.File)}})
		case message.TypeVideo:
			b.addGroup([]*qqbot.Element{{Type: qqbot.ElementVideo, File: seg.File}})
		case message.TypeFile:
			url, err := e.media.FileToURL(ctx, seg.File, seg.Name)
			if err != nil {
				e.log.Error().Err(err).Str("name", seg.Name).Msg("File link resolution failed, dropping segment")
				continue
			}
			b.text(filePlaceholder)
			if row := e.urlButtonRow(ectx, seg.Name, url); row != nil {
				b.attach(row)
			}
		case message.TypeReply:
			el := qqbot.Reply(seg.ID)
			reply = &el
		case message.TypeMarkdown:
			if len(seg.Data) > 0 {
				b.addGroup([]*qqbot.Element{{Type: qqbot.ElementMarkdown, Data: seg.Data}})
			} else {
				b.text(seg.Content)
			}
		case message.TypeButton:
			b.attach(e.makeButtons(ectx, seg.Rows)...)
		case message.TypeNode:
			sub, err := e.expandNodes(ctx, ectx, seg.Nodes, e.encodeRawMarkdown)
			if err != nil {
				return nil, err
			}
			b.addGroup(sub...)
		case message.TypeRaw, message.TypeArk, message.TypeEmbed:
			b.addGroup(rawElements(seg))
		default:
			b.text(message.Summarize([]message.Segment{seg}))
		}
	}

	groups := b.finish()
	if reply == nil && ectx.Reply != nil {
		reply = replyElement(ectx.Reply)
	}
	return applyReply(groups, reply), nil
}
