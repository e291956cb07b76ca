package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"habitd/internal/config"
	"habitd/internal/remote/hub"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync hub other devices connect to",
	Long: `Run the websocket sync hub. Devices point remote_addr at it; the hub
holds the shared documents and daily logs, merges incoming updates, and
broadcasts every change to all subscribed devices.

Hub state is persisted as a JSON snapshot in the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
		addr := cfg.Listen
		if serveListen != "" {
			addr = serveListen
		}

		logger := log.New(os.Stderr, "[hub] ", log.LstdFlags)
		srv, err := hub.NewServer(hub.Config{
			Addr:      addr,
			StatePath: filepath.Join(cfg.DataDir, "hub-state.json"),
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		logger.Printf("Sync hub listening on %s", srv.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return srv.Stop()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
