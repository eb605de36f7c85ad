package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/task"
)

func init() {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Show or update a session's task state",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the live task state",
		Run:   runTaskShow,
	}
	show.Flags().StringP("session", "s", "", "Session key (required)")
	show.MarkFlagRequired("session")

	set := &cobra.Command{
		Use:   "set",
		Short: "Apply a task state update (version bump + premise recompute)",
		Run:   runTaskSet,
	}
	set.Flags().StringP("session", "s", "", "Session key (required)")
	set.Flags().String("task", "", "Task id")
	set.Flags().String("phase", "", "Phase: planning, executing, debugging, reviewing, idle")
	set.Flags().String("goals", "", "Semicolon-separated goals")
	set.Flags().String("constraints", "", "Semicolon-separated constraints")
	set.Flags().String("open-loops", "", "Semicolon-separated open loops")
	set.Flags().String("next-actions", "", "Semicolon-separated next actions")
	set.Flags().Int("turn", 0, "Turn id making the update")
	set.MarkFlagRequired("session")

	cmd.AddCommand(show, set)
	RootCmd.AddCommand(cmd)
}

func runTaskShow(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	st, err := s.TaskState(cmd.Context(), session)
	if err != nil {
		exitErr("task show", err)
	}
	if st == nil {
		fmt.Println("{}")
		return
	}
	if formatFlag == "text" {
		fmt.Println(st.Render())
		return
	}
	printJSON(st)
}

func runTaskSet(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	taskID, _ := cmd.Flags().GetString("task")
	phaseStr, _ := cmd.Flags().GetString("phase")
	turn, _ := cmd.Flags().GetInt("turn")

	u := task.Update{
		TaskID:      taskID,
		Goals:       splitList(cmd, "goals"),
		Constraints: splitList(cmd, "constraints"),
		OpenLoops:   splitList(cmd, "open-loops"),
		NextActions: splitList(cmd, "next-actions"),
	}
	if phaseStr != "" {
		p := task.Phase(phaseStr)
		if !p.Valid() {
			exitErr("task set", fmt.Errorf("unknown phase %q", phaseStr))
		}
		u.Phase = p
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	st, err := e.UpdateTaskState(cmd.Context(), session, u, turn)
	if err != nil {
		exitErr("task set", err)
	}
	printJSON(st)
}

// splitList parses a semicolon-separated flag. An unset flag returns nil
// (leave unchanged); a set-but-empty flag returns an empty slice (clear).
func splitList(cmd *cobra.Command, name string) []string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	raw, _ := cmd.Flags().GetString(name)
	items := []string{}
	for _, it := range strings.Split(raw, ";") {
		if it = strings.TrimSpace(it); it != "" {
			items = append(items, it)
		}
	}
	return items
}
