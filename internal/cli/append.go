package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/artifact"
	"github.com/rcliao/memcore/internal/event"
)

func init() {
	cmd := &cobra.Command{
		Use:   "append [content]",
		Short: "Append an event to a session",
		Long:  "Append an event. Content can be a positional arg or piped via stdin. Tool results above the artifact threshold are spilled automatically.",
		Run:   runAppend,
	}

	cmd.Flags().StringP("session", "s", "", "Session key (required)")
	cmd.Flags().Int("turn", 0, "Turn id")
	cmd.Flags().StringP("kind", "k", "user_message", "Event kind")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("task", "", "Task id")
	cmd.Flags().String("content-type", "", "Artifact content type for spilled tool results: log, json, csv, search, text")
	cmd.Flags().Int("importance", 0, "Importance 1-10 (default per kind)")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runAppend(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	turn, _ := cmd.Flags().GetInt("turn")
	kindStr, _ := cmd.Flags().GetString("kind")
	tagsStr, _ := cmd.Flags().GetString("tags")
	taskID, _ := cmd.Flags().GetString("task")
	contentTypeStr, _ := cmd.Flags().GetString("content-type")
	importance, _ := cmd.Flags().GetInt("importance")

	// Content: positional arg first, then stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("append", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	kind, err := event.ParseKind(kindStr)
	if err != nil {
		exitErr("append", err)
	}

	var tags []string
	if tagsStr != "" {
		for _, t := range strings.Split(tagsStr, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	meta := event.Metadata{TaskID: taskID, Tags: tags, Importance: importance}

	var ev *event.Event
	switch kind {
	case event.KindUserMessage:
		ev, err = e.IngestUserMessage(cmd.Context(), session, turn, content, meta)
	case event.KindAgentMessage:
		ev, err = e.IngestAgentMessage(cmd.Context(), session, turn, content, meta)
	case event.KindToolCall:
		ev, err = e.IngestToolCall(cmd.Context(), session, turn, content, meta)
	case event.KindToolResult:
		var ct artifact.ContentType
		if contentTypeStr != "" {
			ct, err = artifact.ParseContentType(contentTypeStr)
			if err != nil {
				exitErr("append", err)
			}
		}
		ev, err = e.IngestToolResult(cmd.Context(), session, turn, content, ct, meta)
	case event.KindSystemEvent:
		ev, err = e.IngestSystemEvent(cmd.Context(), session, turn, content, meta)
	case event.KindCompactionMarker:
		exitErr("append", fmt.Errorf("compaction markers are written by the compaction engine"))
	default:
		ev, err = e.Ingest(cmd.Context(), session, turn, kind, content, meta)
	}
	if err != nil {
		exitErr("append", err)
	}

	printJSON(ev)
}
