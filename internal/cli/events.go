package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List a session's events",
		Long:  "List events in append order. By default only the live view; use --all for full durable history.",
		Run:   runEvents,
	}

	cmd.Flags().StringP("session", "s", "", "Session key (required)")
	cmd.Flags().StringP("kind", "k", "", "Comma-separated kind filter")
	cmd.Flags().String("task", "", "Filter by task id")
	cmd.Flags().String("after", "", "Resume after event id")
	cmd.Flags().IntP("limit", "l", 0, "Max results (0 = all)")
	cmd.Flags().Bool("all", false, "Include evicted events")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runEvents(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	kindStr, _ := cmd.Flags().GetString("kind")
	taskID, _ := cmd.Flags().GetString("task")
	afterID, _ := cmd.Flags().GetString("after")
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")

	var kinds []event.Kind
	if kindStr != "" {
		for _, k := range strings.Split(kindStr, ",") {
			kind, err := event.ParseKind(strings.TrimSpace(k))
			if err != nil {
				exitErr("events", err)
			}
			kinds = append(kinds, kind)
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	events, err := s.Events(cmd.Context(), store.Filter{
		SessionKey:     session,
		Kinds:          kinds,
		TaskID:         taskID,
		AfterID:        afterID,
		Limit:          limit,
		IncludeEvicted: all,
	})
	if err != nil {
		exitErr("events", err)
	}

	if formatFlag == "text" {
		for _, e := range events {
			fmt.Printf("%s T%d %-18s %s\n", e.ID, e.TurnID, e.Kind, firstLine(e.Content))
		}
		return
	}
	if len(events) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(events)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
