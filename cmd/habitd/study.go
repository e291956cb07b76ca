package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"habitd/internal/study"
	"habitd/internal/ui"
)

var studyCmd = &cobra.Command{
	Use:     "study",
	GroupID: "track",
	Short:   "Track the active study goal",
}

var (
	studyProvider string
	studyTarget   string
	studyDate     string
)

var studyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active study goal and its streak",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		g := e.study.Active()
		if g == nil {
			fmt.Println(ui.Pending("No active study goal. Set one with: habitd study set <name>"))
			return nil
		}
		fmt.Printf("%s  streak %s\n", ui.Title(g.Name), ui.Streak(e.study.Streak()))
		if g.Provider != "" {
			fmt.Printf("  provider %s\n", g.Provider)
		}
		if g.TargetDate != "" {
			fmt.Printf("  target %s\n", ui.Accent(g.TargetDate))
		}
		return nil
	},
}

var studySetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Select the active study goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if studyTarget != "" {
			var err error
			if target, err = parseDateFlag(studyTarget); err != nil {
				return err
			}
		}

		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		g := study.Goal{Name: args[0], Provider: studyProvider, TargetDate: target}
		if err := e.study.Set(g); err != nil {
			return err
		}
		fmt.Printf("%s Studying towards %s\n", ui.Done("✓"), ui.Accent(g.Name))
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var studyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deselect the active study goal (history is kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		e.study.Clear()
		fmt.Println("Study goal cleared")
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var studyToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Cycle today's study record: no record -> done -> failed -> no record",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDateFlag(studyDate)
		if err != nil {
			return err
		}

		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		recorded, value, err := e.study.ToggleDate(date)
		if err != nil {
			return err
		}
		switch {
		case recorded && value:
			fmt.Printf("%s studied on %s\n", ui.Done("✓"), date)
		case recorded:
			fmt.Printf("%s skipped on %s\n", ui.Failed("✗"), date)
		default:
			fmt.Printf("%s no record for %s\n", ui.Pending("·"), date)
		}
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

func init() {
	studySetCmd.Flags().StringVar(&studyProvider, "provider", "", "certificate provider")
	studySetCmd.Flags().StringVar(&studyTarget, "target", "", "target date (YYYY-MM-DD or natural language)")
	studyToggleCmd.Flags().StringVar(&studyDate, "date", "", "date to toggle (defaults to today)")

	studyCmd.AddCommand(studyStatusCmd)
	studyCmd.AddCommand(studySetCmd)
	studyCmd.AddCommand(studyClearCmd)
	studyCmd.AddCommand(studyToggleCmd)
	rootCmd.AddCommand(studyCmd)
}
