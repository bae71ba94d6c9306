package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"testimpact/internal/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the coverage map: totals, relationships, by category",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	stats, err := h.CoverageStatistics(ctx)
	if err != nil {
		return err
	}
	return writeResult(stats, renderStats)
}

func renderStats(v interface{}) string {
	s := v.(types.CoverageStatistics)
	var b strings.Builder
	fmt.Fprintf(&b, "methods:       %d total, %d covered\n", s.TotalMethods, s.CoveredMethods)
	fmt.Fprintf(&b, "tests:         %d\n", s.TotalTests)
	fmt.Fprintf(&b, "relationships: %d\n", s.TotalRelationships)

	cats := make([]string, 0, len(s.CoverageByTestType))
	for cat := range s.CoverageByTestType {
		cats = append(cats, string(cat))
	}
	sort.Strings(cats)
	for _, cat := range cats {
		fmt.Fprintf(&b, "  %-12s %d\n", cat, s.CoverageByTestType[types.TestCategory(cat)])
	}
	return strings.TrimRight(b.String(), "\n")
}
