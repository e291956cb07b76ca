package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"habitd/internal/syncctl"
	"habitd/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull, merge and push all domains once",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		if e.client == nil {
			return fmt.Errorf("no hub configured (set remote_addr or HABITD_REMOTE_ADDR)")
		}

		for _, ctl := range e.controllers() {
			if err := ctl.SyncNow(cmd.Context()); err != nil {
				return err
			}
		}

		fmt.Printf("%s Synced with %s\n", ui.Done("✓"), ui.Accent(e.cfg.RemoteAddr))
		fmt.Printf("  fetched %d, applied %d, pushed %d documents, %d log records\n",
			e.recorder.Count(syncctl.OpFetch),
			e.recorder.Count(syncctl.OpApply),
			e.recorder.Count(syncctl.OpPush),
			e.recorder.Count(syncctl.OpLogPush))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
