package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"whos-online/internal/bot"
	"whos-online/internal/config"
	"whos-online/internal/discord"
	"whos-online/internal/logging"
	"whos-online/internal/metrics"
	"whos-online/internal/presence"
	"whos-online/internal/router"
	"whos-online/internal/telegram"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the chat platform and start tracking presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	return cmd
}

// presenceSource is a bot event source that can also name its members.
type presenceSource interface {
	bot.Source
	presence.Directory
}

func runBot(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	src, err := newPresenceSource(cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	tracker := presence.NewTracker(presence.NewStore(),
		presence.WithLookupPolicy(cfg.LookupPolicy),
		presence.WithLogger(log.Named("presence")))
	b := bot.New(tracker, src, m, log.Named("bot"))

	sources := []bot.Source{src}
	if cfg.Telegram.Enabled() {
		tg, err := telegram.New(cfg.Telegram, tracker.Community, log.Named("telegram"))
		if err != nil {
			log.Warn("telegram disabled", zap.Error(err))
		} else {
			sources = append(sources, tg)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsListen != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.MetricsListen, m.Router(tracker.Len), log.Named("metrics"))
		})
	}
	g.Go(func() error {
		return b.Run(ctx, sources...)
	})

	log.Info("whos-online started", zap.String("source", cfg.Source), zap.String("version", version))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("stopped", zap.Error(err))
		return err
	}
	log.Info("stopped")
	return nil
}

func newPresenceSource(cfg config.Config, log *zap.Logger) (presenceSource, error) {
	switch cfg.Source {
	case config.SourceRouter:
		return router.New(cfg.Router, log.Named("router")), nil
	default:
		src, err := discord.New(cfg.Discord, cfg.CommandPrefix, log.Named("discord"))
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}
