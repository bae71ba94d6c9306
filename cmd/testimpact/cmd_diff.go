package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"testimpact/internal/types"
)

var flagDiffFile string

func init() {
	for _, c := range []*cobra.Command{diffCmd, analyzeCmd, impactCmd, planCmd} {
		c.Flags().StringVar(&flagDiffFile, "diff-file", "", "Path to a unified diff file (default: read stdin)")
	}
}

// readDiffText reads unified diff text from --diff-file, falling back
// to stdin so the verb composes with `git diff | testimpact analyze`.
func readDiffText() (string, error) {
	if flagDiffFile != "" {
		data, err := os.ReadFile(flagDiffFile)
		if err != nil {
			return "", fmt.Errorf("read diff file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read diff from stdin: %w", err)
	}
	return string(data), nil
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Parse a unified diff into a structural change-set",
	RunE:  runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	diffText, err := readDiffText()
	if err != nil {
		return err
	}

	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	cs, err := h.ParseChangeSet(diffText)
	if err != nil {
		return err
	}
	return writeResult(cs, renderChangeSet)
}

func renderChangeSet(v interface{}) string {
	cs := v.(types.ChangeSet)
	var b strings.Builder
	for _, c := range cs.Changes {
		fmt.Fprintf(&b, "%-12s %s (methods:%d types:%d)\n", c.Kind, c.File, len(c.ChangedMethods), len(c.ChangedTypes))
	}
	return strings.TrimRight(b.String(), "\n")
}
