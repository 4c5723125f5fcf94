// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/rikkawa/qqbridge/pkg/adapter"
	"github.com/rikkawa/qqbridge/pkg/qqbot"
)

// loadConfig upgrades the config file in place against the embedded
// example, then parses it.
func loadConfig(path string) (*adapter.Config, error) {
	data, _, err := configupgrade.Do(path, true, adapter.ConfigUpgrader)
	if err != nil {
		return nil, fmt.Errorf("upgrade config: %w", err)
	}
	var cfg adapter.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	writeExample := flag.Bool("example-config", false, "write the example config to the config path and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger()
	if !*debug {
		log = log.Level(zerolog.InfoLevel)
	}

	if *writeExample {
		if _, err := os.Stat(*configPath); err == nil {
			log.Fatal().Str("path", *configPath).Msg("Config file already exists, not overwriting")
		}
		if err := os.WriteFile(*configPath, []byte(adapter.ExampleConfig), 0o600); err != nil {
			log.Fatal().Err(err).Msg("Failed to write example config")
		}
		log.Info().Str("path", *configPath).Msg("Example config written")
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	bus := adapter.NewChannelBus(256)
	// The loopback transport stands in until a platform transport
	// implementation is linked; sends are accepted and recorded.
	a := adapter.New(adapter.Options{
		Config:        cfg,
		Bus:           bus,
		ClientFactory: qqbot.NewLoopbackClient,
		Logger:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connected := a.ConnectAll(ctx)
	log.Info().Int("connected", connected).Int("configured", len(cfg.Accounts)).Msg("Startup complete")

	var server *http.Server
	if cfg.WebhookAddr != "" {
		mux := http.NewServeMux()
		a.Webhook.Attach(mux, cfg.WebhookPath)
		server = &http.Server{Addr: cfg.WebhookAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.WebhookAddr).Str("path", cfg.WebhookPath).Msg("Webhook endpoint listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Webhook server failed")
				stop()
			}
		}()
	}

	go func() {
		for {
			select {
			case env := <-bus.Events():
				log.Debug().Str("event", env.Name).Str("self_id", env.Event.SelfID).Msg("Bus event")
			case <-bus.Dropped():
				log.Warn().Msg("Event bus saturated, events dropped")
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Webhook server shutdown failed")
		}
	}
	a.Close(shutdownCtx)
}
