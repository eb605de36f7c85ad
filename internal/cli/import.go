package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import events from a JSONL export",
		Long:  "Insert events with their original ids and timestamps. Existing ids are skipped, so re-importing is safe.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	in := os.Stdin
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("import", err)
		}
		defer f.Close()
		in = f
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	imported, skipped, err := s.ImportJSONL(cmd.Context(), in)
	if err != nil {
		exitErr("import", err)
	}
	fmt.Printf(`{"imported": %d, "skipped": %d}`+"\n", imported, skipped)
}
