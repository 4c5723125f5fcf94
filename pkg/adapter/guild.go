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

// encodeGuild renders segments for guild channels and their direct
// sessions. Channels keep native at-mentions and allow URLs in text, so no
// QR substitution applies; interactive buttons have no channel rendering
// and are dropped.
func (e *Encoder) encodeGuild(ctx context.Context, ectx *EncodeContext, segs []message.Segment) ([][]*qqbot.Element, error) {
	b := &plainBuilder{}
	var reply *qqbot.Element

	for _, seg := range segs {
		switch seg.Type {
		case message.TypeText:
			b.text(seg.Text)
		case message.TypeAt:
			target := UnscopeGuildUserID(UnscopeID(ectx.SelfID, seg.QQ))
			if target == "all" {
				target = "everyone"
			}
			el := qqbot.At(target)
			b.add(&el)
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
			b.text(filePrefix + url)
		case message.TypeFace:
			e.log.Debug().Str("face_id", seg.ID).Msg("Face segment has no channel rendering, dropped")
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
		case message.TypeButton:
			e.log.Debug().Msg("Button segment has no channel rendering, dropped")
		case message.TypeNode:
			sub, err := e.expandNodes(ctx, ectx, seg.Nodes, e.encodeGuild)
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
