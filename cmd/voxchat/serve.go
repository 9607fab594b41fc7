package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"voxchat/internal/broker"
	"voxchat/internal/config"
	"voxchat/internal/upstream"
)

func serveCmd() *cobra.Command {
	var addr, profileName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session broker HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			closer, err := setupLogging(false)
			if err != nil {
				return err
			}
			defer closer.Close()

			// The profile decides whether a missing file is fatal, so the
			// first load tolerates it.
			resolver := config.NewResolver(configPath)
			cfg, err := resolver.Load()
			if err != nil {
				return err
			}
			if profileName == "" {
				profileName = cfg.Server.Profile
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}

			profile, err := config.LookupProfile(profileName)
			if err != nil {
				return err
			}
			profile = profile.ForServer(cfg.Server)
			resolver.RequireFile = profile.RequireFile

			settings := config.NewCache(resolver)
			if _, err := settings.Settings(); err != nil {
				log.Error().Err(err).Msg("configuration incomplete; config and session endpoints will report it until fixed")
			}

			srv := broker.New(broker.Options{
				Settings:  settings,
				Upstream:  upstream.NewClient("", nil),
				Profile:   profile,
				StaticDir: cfg.Server.StaticDir,
				Logger:    log.Logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :3001)")
	cmd.Flags().StringVar(&profileName, "profile", "", "deployment profile: local or hosted")
	return cmd
}
