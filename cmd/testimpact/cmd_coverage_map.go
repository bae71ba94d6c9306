package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"testimpact/internal/types"
)

var coverageMapCmd = &cobra.Command{
	Use:   "coverage-map",
	Short: "Dump the full test-to-production coverage map",
	RunE:  runCoverageMap,
}

func runCoverageMap(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	cov, err := h.BuildCoverageMap(ctx)
	if err != nil {
		return err
	}

	out := make(map[types.MethodId][]types.CoverageEntry)
	for _, m := range cov.CoveredMethods() {
		out[m] = cov.TestsCovering(m)
	}
	return writeResult(out, renderCoverageMap)
}

func renderCoverageMap(v interface{}) string {
	out := v.(map[types.MethodId][]types.CoverageEntry)
	methods := make([]types.MethodId, 0, len(out))
	for m := range out {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })

	var b strings.Builder
	for _, method := range methods {
		entries := out[method]
		fmt.Fprintf(&b, "%s (%d covering tests)\n", method, len(entries))
		for _, e := range entries {
			fmt.Fprintf(&b, "  %.2f  %s\n", e.PathConfidence, e.Test.ID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
