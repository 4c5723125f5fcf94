// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"

	"github.com/rikkawa/qqbridge/pkg/adapter/mdfmt"
	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// templateBuilder fills the ordered placeholder slots of an approved
// markdown template. One rendered message holds at most len(keys) slots and
// maxKeyboardRows keyboard rows; slot overflow rolls into a fresh message
// and keyboard overflow into placeholder-only carrier messages. Inline
// markdown links only survive the template renderer when the "[label]" part
// ends one slot and the "(url)" part begins the next, so the builder works
// in slot pieces rather than flat text.
type templateBuilder struct {
	keys   []string
	tpl    string
	cur    []string
	extra  []*qqbot.Element
	groups [][]*qqbot.Element
}

// push appends slot pieces. The first piece continues the current slot;
// each further piece opens a new one, flushing a full message as needed.
func (t *templateBuilder) push(pieces []string) {
	for i, p := range pieces {
		if i == 0 && len(t.cur) > 0 {
			t.cur[len(t.cur)-1] += p
			continue
		}
		if len(t.cur) >= len(t.keys) {
			t.flushMessage()
		}
		t.cur = append(t.cur, p)
	}
}

// pushPair appends a link pair that must land in adjacent slots of the
// same message.
func (t *templateBuilder) pushPair(label, url string) {
	if len(t.cur) >= len(t.keys) {
		t.flushMessage()
	}
	t.push([]string{label, url})
}

// attach adds a keyboard element carried by the current message.
func (t *templateBuilder) attach(els ...*qqbot.Element) {
	t.extra = append(t.extra, els...)
}

// addGroup flushes the current message and appends a standalone group.
func (t *templateBuilder) addGroup(groups ...[]*qqbot.Element) {
	t.flushMessage()
	t.groups = append(t.groups, groups...)
}

// message renders one template group from filled slots and keyboard rows.
func (t *templateBuilder) message(slots []string, rows []*qqbot.Element) []*qqbot.Element {
	params := make([]qqbot.MarkdownParam, 0, len(slots))
	for i, v := range slots {
		params = append(params, qqbot.MarkdownParam{Key: t.keys[i], Values: []string{v}})
	}
	group := make([]*qqbot.Element, 0, 1+len(rows))
	group = append(group, &qqbot.Element{
		Type:       qqbot.ElementMarkdown,
		TemplateID: t.tpl,
		Params:     params,
	})
	return append(group, rows...)
}

func (t *templateBuilder) flushMessage() {
	if len(t.cur) == 0 && len(t.extra) == 0 {
		return
	}
	if len(t.cur) == 0 {
		// A keyboard cannot travel alone.
		t.cur = []string{" "}
	}
	rows := t.extra
	first := rows
	if len(first) > maxKeyboardRows {
		first = rows[:maxKeyboardRows]
	}
	t.groups = append(t.groups, t.message(t.cur, first))
	for rows = rows[len(first):]; len(rows) > 0; {
		n := len(rows)
		if n > maxKeyboardRows {
			n = maxKeyboardRows
		}
		t.groups = append(t.groups, t.message([]string{" "}, rows[:n]))
		rows = rows[n:]
	}
	t.cur = nil
	t.extra = nil
}

func (t *templateBuilder) finish() [][]*qqbot.Element {
	t.flushMessage()
	return t.groups
}

// templateText splits prepared text into slot pieces at markdown link
// boundaries: the label closes a slot and the URL part opens the next.
func templateText(text string) []string {
	links := mdfmt.FindLinks(text)
	if len(links) == 0 {
		return []string{text}
	}
	var pieces []string
	pos := 0
	for _, link := range links {
		pieces = append(pieces, text[pos:link.Start]+link.Label)
		pieces = append(pieces, link.URLPart)
		pos = link.End
	}
	// Trailing text rides in the last URL slot.
	if tail := text[pos:]; tail != "" {
		pieces[len(pieces)-1] += tail
	}
	return pieces
}

// urlButtonRow renders one URL as a single-button link row.
func (e *Encoder) urlButtonRow(ectx *EncodeContext, label, url string) *qqbot.Element {
	if label == "" {
		label = "点击查看链接"
	}
	btn := e.makeButton(ectx, message.ButtonSpec{Text: label, Link: url}, 0)
	if btn == nil {
		return nil
	}
	return &qqbot.Element{Type: qqbot.ElementKeyboard, Buttons: []*qqbot.Button{btn}}
}

// substituteURLButtons replaces matching URLs with the button placeholder
// and attaches one link button per URL to the current message.
func (e *Encoder) substituteURLButtons(ectx *EncodeContext, t *templateBuilder, text string) string {
	re := e.cfg.QRRegexp()
	if re == nil {
		return text
	}
	return re.ReplaceAllStringFunc(text, func(url string) string {
		if row := e.urlButtonRow(ectx, "", url); row != nil {
			t.attach(row)
		}
		return qrButtonPlaceholder
	})
}

// encodeTemplate renders segments through the account's approved markdown
// template. Text flows into placeholder slots, images become inline
// markdown links, URLs and files become link buttons. Voice and video stay
// plain groups of their own.
func (e *Encoder) encodeTemplate(ctx context.Context, ectx *EncodeContext, template string, segs []message.Segment) ([][]*qqbot.Element, error) {
	t := &templateBuilder{keys: e.cfg.Markdown.TemplateKeys, tpl: template}
	var reply *qqbot.Element

	for _, seg := range segs {
		switch seg.Type {
		case message.TypeText:
			text := mdfmt.NormalizeNewlines(mdfmt.EscapeAt(seg.Text))
			text = e.substituteURLButtons(ectx, t, text)
			t.push(templateText(text))
		case message.TypeAt:
			target := UnscopeID(ectx.SelfID, seg.QQ)
			if target == "all" {
				t.push([]string{"@everyone"})
			} else {
				t.push([]string{"<@" + target + ">"})
			}
		case message.TypeFace:
			t.push([]string{"<emoji:" + seg.ID + ">"})
		case message.TypeImage:
			des, url, err := e.media.MarkdownImage(ctx, seg.File, seg.Summary)
			if err != nil {
				e.log.Error().Err(err).Msg("Inline image hosting failed, sending separately")
				el := qqbot.Image(e.media.PrepareImage(ctx, seg.File))
				t.addGroup([]*qqbot.Element{&el})
				continue
			}
			t.pushPair(des, url)
		case message.TypeRecord:
			t.addGroup([]*qqbot.Element{{Type: qqbot.ElementAudio, File: e.media.PrepareVoice(ctx, seg.File)}})
		case message.TypeVideo:
			t.addGroup([]*qqbot.Element{{Type: qqbot.ElementVideo, File: seg.File}})
		case message.TypeFile:
			url, err := e.media.FileToURL(ctx, seg.File, seg.Name)
			if err != nil {
				e.log.Error().Err(err).Str("name", seg.Name).Msg("File link resolution failed, dropping segment")
				continue
			}
			t.push([]string{filePlaceholder})
			if row := e.urlButtonRow(ectx, seg.Name, url); row != nil {
				t.attach(row)
			}
		case message.TypeReply:
			el := qqbot.Reply(seg.ID)
			reply = &el
		case message.TypeMarkdown:
			// Explicit markdown bypasses the template.
			if len(seg.Data) > 0 {
				t.addGroup([]*qqbot.Element{{Type: qqbot.ElementMarkdown, Data: seg.Data}})
			} else {
				el := qqbot.Markdown(seg.Content)
				t.addGroup([]*qqbot.Element{&el})
			}
		case message.TypeButton:
			t.attach(e.makeButtons(ectx, seg.Rows)...)
		case message.TypeNode:
			sub, err := e.expandNodes(ctx, ectx, seg.Nodes, func(ctx context.Context, sectx *EncodeContext, ms []message.Segment) ([][]*qqbot.Element, error) {
				return e.encodeTemplate(ctx, sectx, template, ms)
			})
			if err != nil {
				return nil, err
			}
			t.addGroup(sub...)
		case message.TypeRaw, message.TypeArk, message.TypeEmbed:
			t.addGroup(rawElements(seg))
		default:
			t.push([]string{message.Summarize([]message.Segment{seg})})
		}
	}

	groups := t.finish()
	if reply == nil && ectx.Reply != nil {
		reply = replyElement(ectx.Reply)
	}
	return applyReply(groups, reply), nil
}
