// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/wdvxdr1123/go-silk"

	// Decoder registrations so CompressImage accepts the formats the
	// platform commonly delivers.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

const base64Prefix = "base64://"

// silk voice parameters matching the platform codec contract.
const (
	silkSampleRate = 48000
	silkBitRate    = 64000
)

// minJPEGQuality is the last compression pass before giving up on the
// size threshold.
const minJPEGQuality = 10

// nextQuality steps the JPEG quality down one pass, clamped at the floor.
func nextQuality(q int) int {
	q -= 10
	if q < minJPEGQuality {
		q = minJPEGQuality
	}
	return q
}

var silkMagic = []byte("#!SILK_V3")

// ErrNoLinkResolver is returned by FileToURL when no external URL provider
// is configured and no account could host the asset.
var ErrNoLinkResolver = errors.New("no link resolver configured")

// ConnectionLister supplies the accounts whose hosting capability the
// pipeline may borrow. Implemented by Registry.
type ConnectionLister interface {
	Connections() []*Connection
}

// LinkResolver turns raw asset bytes into an externally reachable URL.
// The host supplies one; it is the fallback when no account can host.
type LinkResolver func(ctx context.Context, data []byte, name string) (string, error)

// MediaPipeline handles image compression, voice transcoding, QR
// generation and upload-or-link resolution. It has no dependency on the
// other core components.
type MediaPipeline struct {
	cfg         *Config
	accounts    ConnectionLister
	resolveLink LinkResolver
	httpClient  *http.Client
	log         zerolog.Logger
}

// NewMediaPipeline builds the media pipeline. resolveLink may be nil, in
// which case FileToURL fails once account hosting is exhausted.
func NewMediaPipeline(cfg *Config, accounts ConnectionLister, resolveLink LinkResolver, log zerolog.Logger) *MediaPipeline {
	return &MediaPipeline{
		cfg:         cfg,
		accounts:    accounts,
		resolveLink: resolveLink,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         log.With().Str("component", "media").Logger(),
	}
}

// loadMedia resolves a media source string (base64://, http(s) URL or local
// path) to raw bytes.
func (m *MediaPipeline) loadMedia(ctx context.Context, file string) ([]byte, error) {
	switch {
	case strings.HasPrefix(file, base64Prefix):
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(file, base64Prefix))
	case strings.HasPrefix(file, "http://"), strings.HasPrefix(file, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, file, nil)
		if err != nil {
			return nil, err
		}
		resp, err := m.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", file, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	default:
		return os.ReadFile(strings.TrimPrefix(file, "file://"))
	}
}

// CompressImage re-encodes an image until it fits the threshold, stepping
// the JPEG quality down from 95 by 10 per iteration with a floor of 10.
// Best effort: on any failure, or if the floor is reached while still over
// threshold, the most recent usable buffer is returned. Never errors.
func (m *MediaPipeline) CompressImage(ctx context.Context, data []byte, thresholdMB int) []byte {
	if thresholdMB <= 0 {
		return data
	}
	limit := thresholdMB * 1024 * 1024
	if len(data) <= limit {
		return data
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		m.log.Error().Err(err).Msg("Image decode failed, skipping compression")
		return data
	}

	out := data
	quality := 95
	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			m.log.Error().Err(err).Msg("Image encode failed, keeping previous buffer")
			return out
		}
		out = buf.Bytes()
		m.log.Debug().
			Int("quality", quality).
			Int("size_kb", len(out)/1024).
			Msg("Image compression pass")
		if len(out) <= limit || quality == minJPEGQuality {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}
		quality = nextQuality(quality)
	}
	return out
}

// isSilk reports whether the buffer already carries the target voice codec.
func isSilk(data []byte) bool {
	if len(data) > 0 && data[0] == 0x02 {
		data = data[1:]
	}
	return bytes.HasPrefix(data, silkMagic)
}

// TranscodeAudio converts arbitrary audio to the platform voice codec.
// Input already in the codec passes through. Conversion decodes to raw PCM
// with ffmpeg and re-encodes; temporary files are removed on every exit
// path. Any failure returns the input unchanged with an error log.
func (m *MediaPipeline) TranscodeAudio(ctx context.Context, data []byte) []byte {
	if isSilk(data) {
		return data
	}

	dir := os.TempDir()
	src := filepath.Join(dir, uuid.New().String())
	pcm := src + ".pcm"
	defer func() {
		for _, f := range []string{src, pcm} {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.log.Debug().Err(err).Str("file", f).Msg("Temp file cleanup failed")
			}
		}
	}()

	if err := os.WriteFile(src, data, 0o600); err != nil {
		m.log.Error().Err(err).Msg("Voice transcode failed writing temp file")
		return data
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", "-i", src,
		"-f", "s16le", "-ar", fmt.Sprint(silkSampleRate), "-ac", "1", pcm)
	if out, err := cmd.CombinedOutput(); err != nil {
		m.log.Error().Err(err).Str("ffmpeg", string(out)).Msg("Voice decode failed")
		return data
	}
	pcmData, err := os.ReadFile(pcm)
	if err != nil {
		m.log.Error().Err(err).Msg("Voice transcode failed reading PCM")
		return data
	}
	encoded, err := silk.EncodePcmBuffToSilk(pcmData, silkSampleRate, silkBitRate, true)
	if err != nil {
		m.log.Error().Err(err).Msg("Voice encode failed")
		return data
	}
	return encoded
}

// UploadImage offers the asset to each connected account's hosting
// capability in turn, returning the first success.
func (m *MediaPipeline) UploadImage(ctx context.Context, data []byte) (*qqbot.UploadResult, bool) {
	if !m.cfg.ToBotUpload {
		return nil, false
	}
	for _, conn := range m.accounts.Connections() {
		res, err := conn.Client.UploadImage(ctx, data)
		if err != nil {
			m.log.Error().Err(err).Str("account_id", conn.ID()).Msg("Image upload failed")
			continue
		}
		if res != nil && res.URL != "" {
			return res, true
		}
	}
	return nil, false
}

// UploadVoice offers voice data to each connected account in turn.
func (m *MediaPipeline) UploadVoice(ctx context.Context, data []byte) (string, bool) {
	if !m.cfg.ToBotUpload {
		return "", false
	}
	for _, conn := range m.accounts.Connections() {
		url, err := conn.Client.UploadRecord(ctx, data)
		if err != nil {
			m.log.Error().Err(err).Str("account_id", conn.ID()).Msg("Voice upload failed")
			continue
		}
		if url != "" {
			return url, true
		}
	}
	return "", false
}

// PrepareVoice resolves a voice source for sending: account hosting first,
// then codec passthrough or transcoding. The result is a URL or a
// base64:// source; on total failure the input string comes back unchanged.
func (m *MediaPipeline) PrepareVoice(ctx context.Context, file string) string {
	data, err := m.loadMedia(ctx, file)
	if err != nil {
		m.log.Error().Err(err).Msg("Voice source unreadable")
		return file
	}
	if url, ok := m.UploadVoice(ctx, data); ok {
		return url
	}
	return qqbot.Base64File(m.TranscodeAudio(ctx, data))
}

// PrepareImage resolves an image source for sending, applying the
// compression threshold. Unreadable sources come back unchanged.
func (m *MediaPipeline) PrepareImage(ctx context.Context, file string) string {
	if m.cfg.ImageMaxMB <= 0 {
		return file
	}
	data, err := m.loadMedia(ctx, file)
	if err != nil {
		m.log.Error().Err(err).Msg("Image source unreadable, sending as-is")
		return file
	}
	return qqbot.Base64File(m.CompressImage(ctx, data, m.cfg.ImageMaxMB))
}

// FileToURL produces an externally reachable URL for a media source:
// already-remote sources pass through, account hosting is tried next, then
// the configured link resolver.
func (m *MediaPipeline) FileToURL(ctx context.Context, file, name string) (string, error) {
	if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") {
		return file, nil
	}
	data, err := m.loadMedia(ctx, file)
	if err != nil {
		return "", err
	}
	if res, ok := m.UploadImage(ctx, data); ok {
		return res.URL, nil
	}
	if m.resolveLink != nil {
		return m.resolveLink(ctx, data, name)
	}
	return "", ErrNoLinkResolver
}

// MarkdownImage renders an image source as a markdown description/link
// pair, hosting the asset through an account or the link resolver.
func (m *MediaPipeline) MarkdownImage(ctx context.Context, file, summary string) (des, url string, err error) {
	if summary == "" {
		summary = "图片"
	}
	data, err := m.loadMedia(ctx, file)
	if err != nil {
		return "", "", err
	}
	var link string
	if res, ok := m.UploadImage(ctx, data); ok {
		link = res.URL
	} else if m.resolveLink != nil {
		link, err = m.resolveLink(ctx, data, summary)
		if err != nil {
			return "", "", err
		}
	} else {
		return "", "", ErrNoLinkResolver
	}
	return "![" + summary + "]", "(" + link + ")", nil
}

// GenerateQRCode renders a URL as a scannable image, returned as a
// base64:// media source.
func (m *MediaPipeline) GenerateQRCode(url string) (string, error) {
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return qqbot.Base64File(png), nil
}
