package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"habitd/internal/config"
	"habitd/internal/dates"
	"habitd/internal/goals"
	"habitd/internal/protocol"
	"habitd/internal/remote"
	"habitd/internal/store"
	"habitd/internal/study"
	"habitd/internal/syncctl"
)

var rootCmd = &cobra.Command{
	Use:   "habitd",
	Short: "Daily habit tracker with multi-device sync",
	Long: `habitd tracks phased daily tasks, personal goals and study goals,
keeping state in a local database and reconciling it with a sync hub
shared across devices.

State lives in ~/.habitd by default. Point HABITD_REMOTE_ADDR (or
remote_addr in ~/.habitd/config.yaml) at a hub started with
"habitd serve" to sync between machines.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "track", Title: "Tracking Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// env is everything a command needs: config, open store, and the three
// domain services wired to the remote when one is configured.
type env struct {
	cfg      *config.Config
	st       *store.Store
	client   *remote.Client
	device   string
	recorder *syncctl.Recorder

	protocol *protocol.Service
	goals    *goals.Service
	study    *study.Service
}

// openEnv builds the command environment. withRemote controls whether a
// configured hub is dialed; read-only commands skip it and run off
// local state.
func openEnv(ctx context.Context, withRemote bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, st: st, recorder: syncctl.NewRecorder()}

	e.device, err = config.DeviceID(st, cfg.DeviceName)
	if err != nil {
		st.Close()
		return nil, err
	}

	logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
	var rem remote.Store
	if withRemote && cfg.RemoteAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := remote.Dial(dialCtx, cfg.RemoteAddr, logger)
		cancel()
		if err != nil {
			// Sync degrades, local tracking does not.
			logger.Printf("Hub %s unreachable, continuing offline: %v", cfg.RemoteAddr, err)
		} else {
			e.client = client
			rem = client
		}
	}

	phases := protocol.DefaultPhases()
	if cfg.PhaseFile != "" {
		phases, err = protocol.LoadPhases(cfg.PhaseFile)
		if err != nil {
			e.close()
			return nil, err
		}
	}

	e.protocol, err = protocol.New(protocol.Config{
		Store: st, Phases: phases, Remote: rem,
		Device: e.device, Recorder: e.recorder,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	e.goals, err = goals.New(goals.Config{
		Store: st, Remote: rem,
		Device: e.device, Recorder: e.recorder,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	e.study, err = study.New(study.Config{
		Store: st, Remote: rem,
		Device: e.device, Recorder: e.recorder,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) close() {
	if e.protocol != nil {
		e.protocol.Stop()
	}
	if e.goals != nil {
		e.goals.Stop()
	}
	if e.study != nil {
		e.study.Stop()
	}
	if e.client != nil {
		e.client.Close()
	}
	if e.st != nil {
		if err := e.st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
	}
}

// controllers lists the domains' controllers in a fixed order.
func (e *env) controllers() []*syncctl.Controller {
	return []*syncctl.Controller{
		e.protocol.Controller(),
		e.goals.Controller(),
		e.study.Controller(),
	}
}

// syncAfterMutation pushes a CLI mutation straight through, bypassing
// the debounce and guard windows: the process is about to exit, and a
// CLI invocation is by definition a user interaction.
func (e *env) syncAfterMutation(ctx context.Context) {
	if e.client == nil {
		return
	}
	for _, ctl := range e.controllers() {
		if err := ctl.SyncNow(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: sync failed: %v\n", err)
			return
		}
	}
}

// parseDateFlag resolves a --date value: empty means today, exact
// YYYY-MM-DD is taken as-is, anything else goes through natural
// language parsing ("yesterday", "last monday").
func parseDateFlag(value string) (string, error) {
	if value == "" {
		return dates.Today(), nil
	}
	if dates.Valid(value) {
		return value, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(value, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", value, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q (try YYYY-MM-DD)", value)
	}
	return dates.Key(r.Time), nil
}
