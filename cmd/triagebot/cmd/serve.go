package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/deskline-ops/triagebot/internal/bus"
	"github.com/deskline-ops/triagebot/internal/channels/slack"
	"github.com/deskline-ops/triagebot/internal/config"
	"github.com/deskline-ops/triagebot/internal/lifecycle"
	"github.com/deskline-ops/triagebot/internal/roles"
	"github.com/deskline-ops/triagebot/internal/router"
	"github.com/deskline-ops/triagebot/internal/scheduler"
	"github.com/deskline-ops/triagebot/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the triage router and reminder scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	printHeader("Serve")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	if !cfg.Slack.Enabled {
		return fmt.Errorf("no chat adapter enabled: set SLACK_ENABLED=true (or its config.json equivalent)")
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	engine := lifecycle.New(s)
	resolver := roles.NewResolver(s)
	adapter := slack.New(cfg.Slack)
	r := router.New(s, resolver, engine, adapter, cfg.Admin)
	sched := scheduler.New(cfg.Scheduler, cfg.SLA, s, engine, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("start slack adapter: %w", err)
	}

	b := bus.New(256)
	b.Pump(ctx, adapter.Events())

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	log.Info().Msg("triagebot serving")
	for {
		evt, err := b.Consume(ctx)
		if err != nil {
			break
		}
		r.Handle(ctx, evt)
	}

	if err := adapter.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop slack adapter")
	}
	b.Wait()
	log.Info().Msg("triagebot stopped")
	return nil
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
