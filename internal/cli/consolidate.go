package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/consolidate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Consolidate a session into episode summaries",
		Long:  "Group events after the stored cursor into episodes and write one summary event each. Idempotent; safe to run from cron.",
		Run:   runConsolidate,
	}

	cmd.Flags().StringP("session", "s", "", "Session key (required)")
	cmd.Flags().String("since", "", "Override cursor: process events since this RFC3339 timestamp")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	sinceStr, _ := cmd.Flags().GetString("since")

	var since *time.Time
	if sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			exitErr("consolidate", err)
		}
		since = &t
	}

	if since == nil {
		res, err := consolidate.RunNightlyConsolidation(cmd.Context(), getBaseDir(), session, consolidate.Options{})
		if err != nil {
			exitErr("consolidate", err)
		}
		printJSON(res)
		return
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	res, err := e.Consolidate(cmd.Context(), session, since)
	if err != nil {
		exitErr("consolidate", err)
	}
	printJSON(res)
}
