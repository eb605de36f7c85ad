package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact a session's live view",
		Long:  "Roll evictable runs into compaction markers until the live view fits the target. A no-op when nothing is eligible.",
		Run:   runCompact,
	}

	cmd.Flags().StringP("session", "s", "", "Session key (required)")
	cmd.Flags().Bool("force", false, "Compact even below the trigger threshold")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runCompact(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	force, _ := cmd.Flags().GetBool("force")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	if force {
		res, err := e.Compact(cmd.Context(), session)
		if err != nil {
			exitErr("compact", err)
		}
		printJSON(res)
		return
	}

	res, err := e.MaybeCompact(cmd.Context(), session)
	if err != nil {
		exitErr("compact", err)
	}
	if res == nil {
		fmt.Println(`{"needed": false}`)
		return
	}
	printJSON(res)
}
