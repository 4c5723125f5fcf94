// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"

	"github.com/rikkawa/qqbridge/pkg/message"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// plainBuilder accumulates wire elements into groups. Each group becomes
// one platform call; a media element always opens a fresh group, and
// adjacent text collapses into a single element. QR image groups queued
// while building a text always land directly after the group holding the
// placeholder text.
type plainBuilder struct {
	groups    [][]*qqbot.Element
	cur       []*qqbot.Element
	qrPending [][]*qqbot.Element
}

func (b *plainBuilder) flush() {
	if len(b.cur) > 0 {
		b.groups = append(b.groups, b.cur)
		b.cur = nil
	}
	if len(b.qrPending) > 0 {
		b.groups = append(b.groups, b.qrPending...)
		b.qrPending = nil
	}
}

func (b *plainBuilder) text(s string) {
	if s == "" {
		return
	}
	if n := len(b.cur); n > 0 && b.cur[n-1].Type == qqbot.ElementText {
		b.cur[n-1].Text += s
		return
	}
	el := qqbot.Text(s)
	b.cur = append(b.cur, &el)
}

func (b *plainBuilder) add(el *qqbot.Element) {
	b.cur = append(b.cur, el)
}

// media closes the accumulated group and starts a fresh one holding the
// media element. Text that follows rides in the same group as a caption.
func (b *plainBuilder) media(el *qqbot.Element) {
	b.flush()
	b.cur = append(b.cur, el)
}

func (b *plainBuilder) queueQR(el *qqbot.Element) {
	b.qrPending = append(b.qrPending, []*qqbot.Element{el})
}

func (b *plainBuilder) finish() [][]*qqbot.Element {
	b.flush()
	return b.groups
}

// substituteQR replaces every URL matching the configured pattern with the
// scan placeholder and queues one QR image group per URL. With QR
// substitution disabled the text passes through untouched.
func (e *Encoder) substituteQR(b *plainBuilder, text string) string {
	re := e.cfg.QRRegexp()
	if re == nil {
		return text
	}
	return re.ReplaceAllStringFunc(text, func(url string) string {
		file, err := e.media.GenerateQRCode(url)
		if err != nil {
			e.log.Error().Err(err).Msg("QR generation failed, keeping URL")
			return url
		}
		el := qqbot.Image(file)
		b.queueQR(&el)
		return qrScanPlaceholder
	})
}

// encodePlain renders segments without markdown: text and media elements,
// with URLs flattened to QR codes and files to link lines. A reply found
// anywhere applies to every produced group.
func (e *Encoder) encodePlain(ctx context.Context, ectx *EncodeContext, segs []message.Segment) ([][]*qqbot.Element, error) {
	b := &plainBuilder{}
	var reply *qqbot.Element

	for _, seg := range segs {
		switch seg.Type {
		case message.TypeText:
			b.text(e.substituteQR(b, seg.Text))
		case message.TypeAt, message.TypeButton:
			// No plain rendering on the platform; dropped without a
			// placeholder so fallback sends stay clean.
		case message.TypeImage:
			el := qqbot.Image(e.media.PrepareImage(ctx, seg.File))
			b.media(&el)
		case message.TypeRecord:
			b.media(&qqbot.Element{Type: qqbot.ElementAudio, File: e.media.PrepareVoice(ctx, seg.File)})
		case message.TypeVideo:
			b.media(&qqbot.Element{Type: qqbot.ElementVideo, File: seg.File})
		case message.TypeFile:
			url, err := e.media.FileToURL(ctx, seg.File, seg.Name)
			if err != nil {
				e.log.Error().Err(err).Str("name", seg.Name).Msg("File link resolution failed, dropping segment")
				continue
			}
			b.text(e.substituteQR(b, filePrefix+url))
		case message.TypeFace:
			e.log.Debug().Str("face_id", seg.ID).Msg("Face segment not representable without markdown, dropped")
		case message.TypeReply:
			el := qqbot.Reply(seg.ID)
			reply = &el
		case message.TypeMarkdown:
			b.flush()
			if len(seg.Data) > 0 {
				b.add(&qqbot.Element{Type: qqbot.ElementMarkdown, Data: seg.Data})
			} else {
				el := qqbot.Markdown(seg.Content)
				b.add(&el)
			}
		case message.TypeNode:
			sub, err := e.expandNodes(ctx, ectx, seg.Nodes, e.encodePlain)
			if err != nil {
				return nil, err
			}
			b.flush()
			b.groups = append(b.groups, sub...)
		case message.TypeRaw, message.TypeArk, message.TypeEmbed:
			for _, el := range rawElements(seg) {
				b.add(el)
			}
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

// expandNodes renders forwarded messages in place using the given encoding
// pass, one level deeper. Nodes past the depth cap are dropped.
func (e *Encoder) expandNodes(ctx context.Context, ectx *EncodeContext, nodes []message.ForwardNode,
	encode func(context.Context, *EncodeContext, []message.Segment) ([][]*qqbot.Element, error),
) ([][]*qqbot.Element, error) {
	if ectx.depth >= maxNodeDepth {
		e.log.Warn().Int("depth", ectx.depth).Msg("Forward node nesting too deep, dropped")
		return nil, nil
	}
	var groups [][]*qqbot.Element
	for _, node := range nodes {
		sub, err := encode(ctx, ectx.child(), node.Message)
		if err != nil {
			return nil, err
		}
		groups = append(groups, sub...)
	}
	return groups, nil
}

// replyElement builds the reply reference for an implicit reply context.
func replyElement(rc *qqbot.ReplyContext) *qqbot.Element {
	if rc == nil {
		return nil
	}
	if rc.MessageID != "" {
		el := qqbot.Reply(rc.MessageID)
		return &el
	}
	if rc.EventID != "" {
		return &qqbot.Element{Type: qqbot.ElementReply, EventID: rc.EventID}
	}
	return nil
}
