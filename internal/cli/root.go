// Package cli implements the memcore CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/engine"
	"github.com/rcliao/memcore/internal/store"
)

var (
	baseDir    string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memcore",
	Short: "Event-sourced memory for AI agents",
	Long:  "Append-only session memory with hybrid recall, compaction markers, and budgeted context packs. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&baseDir, "dir", "d", "", "Base directory (default: $MEMCORE_DIR or ~/.memcore)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getBaseDir() string {
	if baseDir != "" {
		return baseDir
	}
	if env := os.Getenv("MEMCORE_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memcore")
}

func openEngine() (*engine.Engine, error) {
	return engine.Open(getBaseDir(), engine.Options{})
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(filepath.Join(getBaseDir(), "events.db"))
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
