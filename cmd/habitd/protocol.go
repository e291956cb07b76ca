package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"habitd/internal/dates"
	"habitd/internal/protocol"
	"habitd/internal/ui"
)

var protocolCmd = &cobra.Command{
	Use:     "protocol",
	Aliases: []string{"p"},
	GroupID: "track",
	Short:   "Work through today's phased tasks",
}

var protocolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List phases and today's task states",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer e.close()

		today := dates.Today()
		active, statuses := e.protocol.CurrentStatus()
		for _, st := range statuses {
			title := fmt.Sprintf("%s (%s)", st.Phase.Title, st.Phase.ID)
			switch st.State {
			case protocol.Complete:
				fmt.Println(ui.Done(title))
			case protocol.Locked:
				fmt.Println(ui.Locked(title + "  [locked]"))
			default:
				if st.Phase.ID == active {
					title += "  [active]"
				}
				fmt.Println(ui.Title(title))
			}
			for _, tk := range st.Phase.Tasks {
				h := e.protocol.TaskHistory(st.Phase.ID, tk.ID)
				v, recorded := h[today]
				fmt.Printf("  %s %s %s (%s)\n", ui.Mark(recorded, v), tk.Emoji, tk.Title, tk.ID)
			}
		}
		return nil
	},
}

var protocolToggleCmd = &cobra.Command{
	Use:   "toggle <phase> <task>",
	Short: "Toggle a task between pending and done for today",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		done, err := e.protocol.ToggleTask(args[0], args[1])
		if err != nil {
			return err
		}
		if done {
			fmt.Printf("%s %s/%s done\n", ui.Done("✓"), args[0], args[1])
		} else {
			fmt.Printf("%s %s/%s back to pending\n", ui.Pending("·"), args[0], args[1])
		}
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var protocolCompleteCmd = &cobra.Command{
	Use:   "complete <phase>",
	Short: "Advance past a phase once all its tasks are done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		advanced, err := e.protocol.CompletePhase(args[0])
		if err != nil {
			return err
		}
		if !advanced {
			fmt.Printf("%s has unfinished tasks; nothing advanced\n", args[0])
			return nil
		}
		active, _ := e.protocol.CurrentStatus()
		if active == "" {
			fmt.Println(ui.Done("All phases complete for today 🎉"))
		} else {
			fmt.Printf("%s Now on %s\n", ui.Done("✓"), ui.Accent(active))
		}
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

var protocolResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear today's task records and restart at the first phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		e.protocol.ResetAllPhases()
		active, _ := e.protocol.CurrentStatus()
		fmt.Printf("Protocol reset; active phase is %s\n", ui.Accent(active))
		e.syncAfterMutation(cmd.Context())
		return nil
	},
}

func init() {
	protocolCmd.AddCommand(protocolListCmd)
	protocolCmd.AddCommand(protocolToggleCmd)
	protocolCmd.AddCommand(protocolCompleteCmd)
	protocolCmd.AddCommand(protocolResetCmd)
	rootCmd.AddCommand(protocolCmd)
}
