package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"habitd/internal/dates"
	"habitd/internal/goals"
	"habitd/internal/protocol"
	"habitd/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "track",
	Short:   "Show today's phases, goals and study progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		today := dates.Today()
		fmt.Printf("%s  %s\n\n", ui.Title("habitd"), ui.Accent(today))

		active, statuses := e.protocol.CurrentStatus()
		fmt.Println(ui.Title("Protocol"))
		for _, st := range statuses {
			marker := "  "
			if st.Phase.ID == active {
				marker = "▸ "
			}
			line := fmt.Sprintf("%s%s  %d/%d  %s", marker, st.Phase.Title, st.Completed, st.Total, st.State)
			switch st.State {
			case protocol.Complete:
				fmt.Println(ui.Done(line))
			case protocol.Locked:
				fmt.Println(ui.Locked(line))
			default:
				fmt.Println(line)
			}
		}
		completion, err := e.protocol.DailyCompletion(today)
		if err == nil {
			fmt.Printf("  %d%% of today's tasks done, %d perfect days in the last year\n",
				completion.Percentage, e.protocol.PerfectDays(0))
		}

		fmt.Println()
		fmt.Println(ui.Title("Goals"))
		for _, g := range e.goals.Goals() {
			h := e.goals.History(g.ID)
			done, recorded := h[today]
			fmt.Printf("  %s %s  %s  streak %s\n",
				g.Emoji, g.Title, ui.Mark(recorded, done), ui.Streak(e.goals.Streak(g.ID)))
			if g.Kind == goals.KindWeight && g.GoalWeight > 0 {
				fmt.Printf("      %.1f kg, goal %.1f kg\n", g.CurrentWeight, g.GoalWeight)
			}
		}

		fmt.Println()
		fmt.Println(ui.Title("Study"))
		if g := e.study.Active(); g != nil {
			h := e.study.History(g.Name)
			done, recorded := h[today]
			fmt.Printf("  %s  %s  streak %s\n", g.Name, ui.Mark(recorded, done), ui.Streak(e.study.Streak()))
			if g.TargetDate != "" {
				fmt.Printf("      target %s\n", ui.Accent(g.TargetDate))
			}
		} else {
			fmt.Println(ui.Pending("  no active study goal"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
