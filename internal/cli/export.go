package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session's full history as JSONL",
		Long:  "Write every event (live and evicted) to stdout or a file, one JSON object per line.",
		Run:   runExport,
	}

	cmd.Flags().StringP("session", "s", "", "Session key (required)")
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	outPath, _ := cmd.Flags().GetString("out")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			exitErr("export", err)
		}
		defer f.Close()
		out = f
	}

	n, err := s.ExportJSONL(cmd.Context(), session, out)
	if err != nil {
		exitErr("export", err)
	}
	if outPath != "" {
		fmt.Fprintf(os.Stderr, "exported %d events to %s\n", n, outPath)
	}
}
