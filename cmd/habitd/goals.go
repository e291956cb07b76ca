package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"habitd/internal/goals"
	"habitd/internal/history"
	"habitd/internal/ui"
)

var goalsCmd = &cobra.Command{
	Use:     "goals",
	Aliases: []string{"g"},
	GroupID: "track",
	Short:   "Manage personal goals and their streaks",
}

var goalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals with today's state and streaks",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		date, err := parseDateFlag(goalsDate)
		if err != nil {
			return err
		}
		for _, g := range e.goals.Goals() {
			h := e.goals.History(g.ID)
			v, recorded := h[date]
			fmt.Printf("%s %s %s (%s)  streak %s\n",
				ui.Mark(recorded, v), g.Emoji, g.Title, ui.Accent(g.ID), ui.Streak(e.goals.Streak(g.ID)))
			if g.Kind == goals.KindWeight && g.GoalWeight > 0 {
				fmt.Printf("    %.1f kg, goal %.1f kg\n", g.CurrentWeight, g.GoalWeight)
			}
		}
		return nil
	},
}

var (
	goalsDate     string
	addTitle      string
	addEmoji      string
	addColor      string
	addWeightGoal bool
)

var goalsAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a custom goal",
	Long: `Add a custom goal. With no arguments and an interactive terminal,
prompts for the details; otherwise the title argument and flags apply.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g := goals.Goal{Title: addTitle, Emoji: addEmoji, Color: addColor}
		if len(args) == 1 {
			g.Title = args[0]
		}
		if addWeightGoal {
			g.Kind = goals.KindWeight
		}

		if g.Title == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("a title is required when not running interactively")
			}
			var weight bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Title").Value(&g.Title),
				huh.NewInput().Title("Emoji").Value(&g.Emoji),
				huh.NewInput().Title("Color (hex)").Value(&g.Color),
				huh.NewConfirm().Title("Track weight?").Value(&weight),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if weight {
				g.Kind = goals.KindWeight
			}
		}

		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		added, err := e.goals.Add(g)
		if err != nil {
			return err
		}
		fmt.Printf("%s Added %s (%s)\n", ui.Done("✓"), added.Title, ui.Accent(added.ID))
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var goalsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a custom goal and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.goals.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var goalsToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Cycle a goal's record: no record -> done -> failed -> no record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDateFlag(goalsDate)
		if err != nil {
			return err
		}

		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		recorded, value, err := e.goals.ToggleDate(args[0], date)
		if err != nil {
			return err
		}
		switch {
		case recorded && value:
			fmt.Printf("%s %s done on %s\n", ui.Done("✓"), args[0], date)
		case recorded:
			fmt.Printf("%s %s failed on %s\n", ui.Failed("✗"), args[0], date)
		default:
			fmt.Printf("%s %s has no record for %s\n", ui.Pending("·"), args[0], date)
		}
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var goalsSetWeightCmd = &cobra.Command{
	Use:   "set-weight <id> <current> [target]",
	Short: "Record current (and optionally target) weight on a weight goal",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid weight %q", args[1])
		}
		target := 0.0
		if len(args) == 3 {
			if target, err = strconv.ParseFloat(args[2], 64); err != nil {
				return fmt.Errorf("invalid target weight %q", args[2])
			}
		}

		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.goals.SetWeight(args[0], current, target); err != nil {
			return err
		}
		fmt.Printf("%s %s now at %.1f kg\n", ui.Done("✓"), args[0], current)
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var (
	editTitle string
	editEmoji string
	editColor string
)

var goalsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a goal's title, emoji or color",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if editTitle == "" && editEmoji == "" && editColor == "" {
			return fmt.Errorf("nothing to edit: pass --title, --emoji or --color")
		}

		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.goals.Update(args[0], editTitle, editEmoji, editColor); err != nil {
			return err
		}
		fmt.Printf("%s Updated %s\n", ui.Done("✓"), args[0])
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

// goalExport is the YAML shape for goals export/import.
type goalExport struct {
	Goals     []goals.Goal           `yaml:"goals"`
	Histories map[string]history.Map `yaml:"histories"`
}

var goalsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write goals and histories as YAML to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		out := goalExport{Goals: e.goals.Goals(), Histories: make(map[string]history.Map)}
		for _, g := range out.Goals {
			out.Histories[g.ID] = e.goals.History(g.ID)
		}
		return yaml.NewEncoder(os.Stdout).Encode(out)
	},
}

var goalsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge goals and histories from a YAML export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var in goalExport
		if err := yaml.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}

		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		n, err := e.goals.Import(in.Goals, in.Histories)
		if err != nil {
			return err
		}
		fmt.Printf("%s Imported %d goals\n", ui.Done("✓"), n)
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

func init() {
	goalsListCmd.Flags().StringVar(&goalsDate, "date", "", "date to show (YYYY-MM-DD or natural language)")
	goalsToggleCmd.Flags().StringVar(&goalsDate, "date", "", "date to toggle (YYYY-MM-DD or natural language)")
	goalsAddCmd.Flags().StringVar(&addTitle, "title", "", "goal title")
	goalsAddCmd.Flags().StringVar(&addEmoji, "emoji", "", "goal emoji")
	goalsAddCmd.Flags().StringVar(&addColor, "color", "", "goal color (hex)")
	goalsAddCmd.Flags().BoolVar(&addWeightGoal, "weight", false, "track weight on this goal")
	goalsEditCmd.Flags().StringVar(&editTitle, "title", "", "new title")
	goalsEditCmd.Flags().StringVar(&editEmoji, "emoji", "", "new emoji")
	goalsEditCmd.Flags().StringVar(&editColor, "color", "", "new color (hex)")

	goalsCmd.AddCommand(goalsListCmd)
	goalsCmd.AddCommand(goalsAddCmd)
	goalsCmd.AddCommand(goalsEditCmd)
	goalsCmd.AddCommand(goalsRemoveCmd)
	goalsCmd.AddCommand(goalsToggleCmd)
	goalsCmd.AddCommand(goalsSetWeightCmd)
	goalsCmd.AddCommand(goalsExportCmd)
	goalsCmd.AddCommand(goalsImportCmd)
	rootCmd.AddCommand(goalsCmd)
}
