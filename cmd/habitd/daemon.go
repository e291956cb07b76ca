package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"habitd/internal/config"
	"habitd/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the long-lived sync daemon",
	Long: `Run the sync daemon: keeps a live connection to the hub, applies
remote updates to local state, and watches the local database so that
writes from habitd CLI commands are pushed too.

Config changes in ~/.habitd/config.yaml are picked up live.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		logger := daemonLogger(e.cfg)
		logger.Printf("habitd daemon starting (device %s)", e.device)
		if e.client == nil {
			logger.Println("No hub configured; running local-only")
		}

		for _, ctl := range e.controllers() {
			if err := ctl.Start(ctx); err != nil {
				return fmt.Errorf("failed to start sync: %w", err)
			}
		}

		// Hub address changes need a restart; log so the operator knows.
		if err := config.Watch(func(next *config.Config) {
			logger.Println("Config file changed")
			if next.RemoteAddr != e.cfg.RemoteAddr {
				logger.Printf("remote_addr changed to %q; restart the daemon to apply", next.RemoteAddr)
			}
		}); err != nil {
			logger.Printf("Config watch unavailable: %v", err)
		}

		d, err := daemon.New(daemon.Options{
			StorePath: e.cfg.StorePath(),
			Protocol:  e.protocol,
			Goals:     e.goals,
			Study:     e.study,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		return d.Start(ctx)
	},
}

// daemonLogger writes to the configured log file with rotation, or to
// stderr when none is set.
func daemonLogger(cfg *config.Config) *log.Logger {
	if cfg.LogFile == "" {
		return log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}, "[daemon] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
