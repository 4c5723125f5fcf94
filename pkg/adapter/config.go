// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	_ "embed"
	"fmt"
	"regexp"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
	"mvdan.cc/xurls/v2"
)

//go:embed example-config.yaml
var ExampleConfig string

// defaultTemplateKeys is the placeholder key list used when the config does
// not override it. The platform template contract fixes both the names and
// the count.
var defaultTemplateKeys = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

// Config holds the adapter configuration.
type Config struct {
	// Accounts lists the bot accounts to connect at startup.
	Accounts []AccountSpec `yaml:"accounts"`

	Bot BotConfig `yaml:"bot"`

	// ToQRCode controls URL-to-QR substitution in outbound text. Either a
	// boolean (true enables the built-in URL pattern) or a custom regexp
	// string.
	ToQRCode QRCodeRule `yaml:"to_qrcode"`
	// ToCallback renders callback buttons through the interaction channel
	// instead of input prefill.
	ToCallback bool `yaml:"to_callback"`
	// ToBotUpload lets connected accounts host image/voice assets before
	// falling back to an external link.
	ToBotUpload bool `yaml:"to_bot_upload"`
	// HideGuildRecall hides recalled guild messages instead of showing a
	// recall notice.
	HideGuildRecall bool `yaml:"hide_guild_recall"`
	// ImageMaxMB is the image compression threshold in megabytes.
	// 0 disables compression.
	ImageMaxMB int `yaml:"image_max_mb"`

	Markdown MarkdownConfig `yaml:"markdown"`

	// WebhookAddr is the listen address of the webhook endpoint.
	WebhookAddr string `yaml:"webhook_addr"`
	// WebhookPath is the route the dispatcher is mounted at.
	WebhookPath string `yaml:"webhook_path"`

	qrRegexp *regexp.Regexp `yaml:"-"`
}

// BotConfig carries connection parameters shared by all accounts.
type BotConfig struct {
	// HandshakeTimeoutSeconds bounds the wait for the transport ready
	// signal during connect.
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
	// TimeoutMS is the per-request transport timeout in milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`
	MaxRetry  int `yaml:"max_retry"`
}

// AccountSpec is one bot account record, the shape shared with the external
// account store.
type AccountSpec struct {
	ID     string `yaml:"id"`
	AppID  string `yaml:"app_id"`
	Token  string `yaml:"token"`
	Secret string `yaml:"secret"`

	Enabled bool `yaml:"enabled"`
	Sandbox bool `yaml:"sandbox"`

	// Group subscribes group and C2C message events.
	Group bool `yaml:"group"`
	// GuildMessages subscribes private-domain guild messages instead of
	// the public @-mention subset.
	GuildMessages bool `yaml:"guild_messages"`
	// ClientCredential makes connect a token fetch instead of a
	// persistent session; events arrive over the webhook endpoint.
	ClientCredential bool `yaml:"client_credential"`
}

// MarkdownConfig selects the outbound rendering strategy per account.
type MarkdownConfig struct {
	// TemplateKeys is the ordered placeholder key list of the approved
	// message template.
	TemplateKeys []string `yaml:"template_keys"`
	// Templates maps account id to its approved template id, or "raw"
	// for native markdown. Accounts not listed use the plain strategy.
	Templates map[string]string `yaml:"templates"`
}

// QRCodeRule is a YAML union: boolean toggle or custom regexp string.
type QRCodeRule struct {
	Enabled bool
	Pattern string
}

func (q *QRCodeRule) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!!bool":
		return node.Decode(&q.Enabled)
	case "!!str":
		q.Enabled = true
		return node.Decode(&q.Pattern)
	default:
		return fmt.Errorf("to_qrcode: expected bool or pattern string, got %s", node.Tag)
	}
}

func (q QRCodeRule) MarshalYAML() (any, error) {
	if q.Pattern != "" {
		return q.Pattern, nil
	}
	return q.Enabled, nil
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// Strategy selects an outbound rendering pipeline.
type Strategy int

const (
	StrategyPlain Strategy = iota
	StrategyTemplate
	StrategyRaw
)

func (s Strategy) String() string {
	switch s {
	case StrategyTemplate:
		return "template"
	case StrategyRaw:
		return "raw"
	default:
		return "plain"
	}
}

// StrategyFor returns the rendering strategy configured for the account and,
// for the template strategy, the approved template id.
func (c *Config) StrategyFor(selfID string) (Strategy, string) {
	tpl := c.Markdown.Templates[selfID]
	switch tpl {
	case "":
		return StrategyPlain, ""
	case "raw":
		return StrategyRaw, ""
	default:
		return StrategyTemplate, tpl
	}
}

// QRRegexp returns the compiled URL pattern, or nil when QR substitution is
// disabled. Valid only after PostProcess.
func (c *Config) QRRegexp() *regexp.Regexp {
	return c.qrRegexp
}

// PostProcess fills defaults and compiles the QR URL pattern.
func (c *Config) PostProcess() error {
	if len(c.Markdown.TemplateKeys) == 0 {
		c.Markdown.TemplateKeys = defaultTemplateKeys
	}
	if len(c.Markdown.TemplateKeys) < 2 {
		return fmt.Errorf("markdown.template_keys needs at least 2 entries, got %d", len(c.Markdown.TemplateKeys))
	}
	if c.Bot.HandshakeTimeoutSeconds <= 0 {
		c.Bot.HandshakeTimeoutSeconds = 60
	}
	if c.Bot.TimeoutMS <= 0 {
		c.Bot.TimeoutMS = 30000
	}
	if c.WebhookPath == "" {
		c.WebhookPath = "/QQBot"
	}
	c.qrRegexp = nil
	if c.ToQRCode.Enabled {
		if c.ToQRCode.Pattern != "" {
			re, err := regexp.Compile(c.ToQRCode.Pattern)
			if err != nil {
				return fmt.Errorf("to_qrcode: invalid pattern: %w", err)
			}
			c.qrRegexp = re
		} else {
			c.qrRegexp = xurls.Strict()
		}
	}
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.List, "accounts")
	helper.Copy(up.Int, "bot", "handshake_timeout_seconds")
	helper.Copy(up.Int, "bot", "timeout_ms")
	helper.Copy(up.Int, "bot", "max_retry")
	helper.Copy(up.Bool|up.Str, "to_qrcode")
	helper.Copy(up.Bool, "to_callback")
	helper.Copy(up.Bool, "to_bot_upload")
	helper.Copy(up.Bool, "hide_guild_recall")
	helper.Copy(up.Int, "image_max_mb")
	helper.Copy(up.List, "markdown", "template_keys")
	helper.Copy(up.Map, "markdown", "templates")
	helper.Copy(up.Str, "webhook_addr")
	helper.Copy(up.Str, "webhook_path")
}

// ConfigUpgrader migrates user configs across versions, keeping unknown
// keys pinned to the embedded example.
var ConfigUpgrader up.BaseUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Base:           ExampleConfig,
}
