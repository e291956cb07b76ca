package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"habitd/internal/migrate"
	"habitd/internal/ui"
)

var (
	importDryRun    bool
	importOverwrite bool
)

var importCmd = &cobra.Command{
	Use:     "import <export.json>",
	GroupID: "sync",
	Short:   "Import state exported from the legacy browser app",
	Long: `Import a localStorage export from the legacy browser app. The export
is a JSON object whose values are stringified JSON, one per persisted
slice; recognized slices are written into the local store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		res, err := migrate.Run(e.st, migrate.Options{
			Path:      args[0],
			DryRun:    importDryRun,
			Overwrite: importOverwrite,
		})
		if err != nil {
			return err
		}

		verb := "Imported"
		if importDryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d goals (%d dates)", ui.Done("✓"), verb, res.GoalsImported, res.GoalDates)
		if res.StudyGoal != "" {
			fmt.Printf(", study goal %q (%d dates)", res.StudyGoal, res.StudyDates)
		}
		fmt.Println()
		for _, key := range res.SkippedKeys {
			fmt.Printf("  skipped unknown key %s\n", key)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate without writing")
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "replace existing local slices")
	rootCmd.AddCommand(importCmd)
}
