// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mdfmt holds the pure text transforms used by the markdown
// message encoders: mention escaping, newline normalization and
// markdown-link extraction.
package mdfmt

import (
	"regexp"
	"strings"
)

// zeroWidthSpace keeps a literal "@" from being parsed as a mention by the
// platform's markdown renderer.
const zeroWidthSpace = "​"

// linkRe matches inline markdown links and images: "[label](scheme://url)".
var linkRe = regexp.MustCompile(`(!?\[.*?\])\s*(\(\w+://.*?\))`)

// EscapeAt neutralizes "@" characters so they render as plain text.
func EscapeAt(s string) string {
	return strings.ReplaceAll(s, "@", "@"+zeroWidthSpace)
}

// NormalizeNewlines rewrites "\n" to "\r", the line break the template
// renderer accepts inside placeholder values.
func NormalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\r")
}

// Link is one markdown link occurrence inside a text. Label includes the
// brackets (and leading "!" for images); URLPart includes the parentheses.
type Link struct {
	Label   string
	URLPart string
	Start   int
	End     int
}

// FindLinks returns all markdown links in s, in order.
func FindLinks(s string) []Link {
	matches := linkRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, Link{
			Label:   s[m[2]:m[3]],
			URLPart: s[m[4]:m[5]],
			Start:   m[0],
			End:     m[1],
		})
	}
	return links
}
