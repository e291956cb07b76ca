package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"habitd/internal/config"
	"habitd/internal/remote/loadtest"
)

var (
	benchDevices int
	benchWrites  int
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "sync",
	Short:   "Load-test a sync hub with concurrent devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.RemoteAddr == "" {
			return fmt.Errorf("no hub configured (set remote_addr or HABITD_REMOTE_ADDR)")
		}

		fmt.Printf("Running %d devices x %d writes against %s...\n",
			benchDevices, benchWrites, cfg.RemoteAddr)
		stats, err := loadtest.Run(cmd.Context(), loadtest.Options{
			Addr:            cfg.RemoteAddr,
			Devices:         benchDevices,
			WritesPerDevice: benchWrites,
		})
		if err != nil {
			return err
		}
		stats.Print(os.Stdout)
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchDevices, "devices", 10, "concurrent devices")
	benchCmd.Flags().IntVar(&benchWrites, "writes", 20, "writes per device")
	rootCmd.AddCommand(benchCmd)
}
