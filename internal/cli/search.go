package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/search"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search a session's events",
		Long:  "Hybrid lexical + vector search over the live view. Falls back to lexical-only when no embedder is configured.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("session", "s", "", "Session key (required)")
	cmd.Flags().StringP("kind", "k", "", "Comma-separated kind filter")
	cmd.Flags().String("task", "", "Filter by task id")
	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().Bool("lexical", false, "Lexical-only ranking")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	kindStr, _ := cmd.Flags().GetString("kind")
	taskID, _ := cmd.Flags().GetString("task")
	limit, _ := cmd.Flags().GetInt("limit")
	lexicalOnly, _ := cmd.Flags().GetBool("lexical")
	query := strings.Join(args, " ")

	var kinds []event.Kind
	if kindStr != "" {
		for _, k := range strings.Split(kindStr, ",") {
			kind, err := event.ParseKind(strings.TrimSpace(k))
			if err != nil {
				exitErr("search", err)
			}
			kinds = append(kinds, kind)
		}
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	params := search.Params{
		SessionKey: session,
		Query:      query,
		TaskID:     taskID,
		Kinds:      kinds,
		TopN:       limit,
	}

	var results []search.Candidate
	if lexicalOnly {
		results, err = e.Index().Lexical(cmd.Context(), params)
	} else {
		results, err = e.Index().Hybrid(cmd.Context(), params)
	}
	if err != nil {
		exitErr("search", err)
	}

	if formatFlag == "text" {
		for _, c := range results {
			fmt.Printf("%.3f %s T%d %-14s %s\n", c.Score, c.Event.ID, c.Event.TurnID, c.Event.Kind, firstLine(c.Event.Content))
		}
		return
	}
	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}
