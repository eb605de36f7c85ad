package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memcore/internal/artifact"
	"github.com/rcliao/memcore/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Fetch spilled artifacts",
	}

	get := &cobra.Command{
		Use:   "get [artifact-id]",
		Short: "Print an artifact's full content",
		Args:  cobra.ExactArgs(1),
		Run:   runArtifactGet,
	}

	preview := &cobra.Command{
		Use:   "preview [artifact-id]",
		Short: "Print an artifact's stored preview and metadata",
		Args:  cobra.ExactArgs(1),
		Run:   runArtifactPreview,
	}

	cmd.AddCommand(get, preview)
	RootCmd.AddCommand(cmd)
}

func openArtifacts() (*artifact.Store, error) {
	cfg, err := config.Load(getBaseDir())
	if err != nil {
		return nil, err
	}
	return artifact.NewStore(getBaseDir(), artifact.PreviewConfig{
		LogTailLines:      cfg.LogTailLines,
		CSVSampleRows:     cfg.CSVSampleRows,
		JSONSkeletonDepth: cfg.JSONSkeletonDepth,
		TextPreviewChars:  cfg.TextPreviewChars,
	})
}

func runArtifactGet(cmd *cobra.Command, args []string) {
	s, err := openArtifacts()
	if err != nil {
		exitErr("open artifacts", err)
	}
	content, err := s.Get(args[0])
	if err != nil {
		exitErr("artifact get", err)
	}
	fmt.Print(content)
}

func runArtifactPreview(cmd *cobra.Command, args []string) {
	s, err := openArtifacts()
	if err != nil {
		exitErr("open artifacts", err)
	}
	meta, err := s.Meta(args[0])
	if err != nil {
		exitErr("artifact preview", err)
	}
	printJSON(meta)
}
