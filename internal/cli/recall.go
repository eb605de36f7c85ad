package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query...]",
		Short: "Recall ranked memory under a token budget",
		Long:  "Run one or more queries through hybrid search, merge by best score, and pack results under the token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().StringP("session", "s", "", "Session key (required)")
	cmd.Flags().Int("max-tokens", 0, "Token budget (default from config)")
	cmd.Flags().String("task", "", "Filter by task id")
	cmd.Flags().IntP("limit", "l", 10, "Candidates per query")
	cmd.Flags().Bool("pack", false, "Assemble a full context pack (task state + markers + events) instead")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	taskID, _ := cmd.Flags().GetString("task")
	limit, _ := cmd.Flags().GetInt("limit")
	asPack, _ := cmd.Flags().GetBool("pack")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	if asPack {
		pack, err := e.BuildPack(cmd.Context(), session, args[0], maxTokens)
		if err != nil {
			exitErr("recall", err)
		}
		if formatFlag == "text" {
			for _, sec := range pack.Sections {
				fmt.Printf("--- %s (%d tokens)\n%s\n", sec.Name, sec.Tokens, sec.Content)
			}
			fmt.Printf("--- total %d tokens, truncated=%v\n", pack.TotalTokens, pack.Truncated)
			return
		}
		printJSON(pack)
		return
	}

	res, err := e.Recall(cmd.Context(), engine.RecallRequest{
		SessionKey: session,
		Queries:    args,
		MaxTokens:  maxTokens,
		TaskID:     taskID,
		TopN:       limit,
	})
	if err != nil {
		exitErr("recall", err)
	}

	if formatFlag == "text" {
		for _, c := range res.Events {
			fmt.Printf("%.3f %s T%d %-14s %s\n", c.Score, c.Event.ID, c.Event.TurnID, c.Event.Kind, firstLine(c.Event.Content))
		}
		fmt.Printf("(%d events, %d tokens, %d candidates across %d queries)\n",
			len(res.Events), res.TotalTokens, res.TotalCandidates, res.QueryCount)
		return
	}
	printJSON(res)
}
