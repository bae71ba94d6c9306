package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"testimpact/internal/mangleexplain"
	"testimpact/internal/types"
)

var (
	flagExplainTest   string
	flagExplainMethod string
)

// explainCmd surfaces a declarative "why does this test cover this
// method" query on top of the same coverage map the other verbs
// already build.
var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain, via declarative query, why a test covers a method",
	RunE:  runExplain,
}

func init() {
	explainCmd.Flags().StringVar(&flagExplainTest, "test", "", "Test MethodId (required)")
	explainCmd.Flags().StringVar(&flagExplainMethod, "method", "", "Production MethodId (required)")
	explainCmd.MarkFlagRequired("test")
	explainCmd.MarkFlagRequired("method")
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	graph, err := h.BuildCallGraph(ctx)
	if err != nil {
		return err
	}
	cov, err := h.BuildCoverageMap(ctx)
	if err != nil {
		return err
	}

	store, err := mangleexplain.NewStore()
	if err != nil {
		return err
	}

	facts := mangleexplain.CallEdgeFacts(graph)
	facts = append(facts, mangleexplain.CoverageFacts(cov, graph.Nodes())...)
	if err := store.Load(ctx, facts); err != nil {
		return err
	}

	paths, err := store.Explain(types.MethodId(flagExplainTest), types.MethodId(flagExplainMethod))
	if err != nil {
		return err
	}
	return writeResult(paths, renderExplain)
}

func renderExplain(v interface{}) string {
	paths := v.([]types.CoveragePath)
	if len(paths) == 0 {
		return fmt.Sprintf("%s does not cover %s", flagExplainTest, flagExplainMethod)
	}
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%.2f  %s\n", p.PathConfidence, formatPath(p.Nodes))
	}
	return strings.TrimRight(b.String(), "\n")
}
