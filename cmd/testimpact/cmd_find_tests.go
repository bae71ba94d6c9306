package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"testimpact/internal/types"
)

var flagMethod string

var findTestsCmd = &cobra.Command{
	Use:   "find-tests",
	Short: "List every test exercising a method, with path and confidence",
	RunE:  runFindTests,
}

func init() {
	findTestsCmd.Flags().StringVar(&flagMethod, "method", "", "MethodId to query (required)")
	findTestsCmd.MarkFlagRequired("method")
}

func runFindTests(cmd *cobra.Command, args []string) error {
	if flagMethod == "" {
		return fmt.Errorf("--method is required")
	}

	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	entries, err := h.TestsExercisingMethod(ctx, types.MethodId(flagMethod))
	if err != nil {
		return err
	}
	return writeResult(entries, renderCoverageEntries)
}

func renderCoverageEntries(v interface{}) string {
	entries := v.([]types.CoverageEntry)
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%.2f  %s  %s\n", e.PathConfidence, e.Test.ID, formatPath(e.Path.Nodes))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPath(nodes []types.MethodId) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, " -> ")
}
