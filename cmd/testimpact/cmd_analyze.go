package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"testimpact/internal/engine"
	"testimpact/internal/history"
	"testimpact/internal/planner"
	"testimpact/internal/types"
)

var (
	flagConfidence  string
	flagMaxTests    int
	flagMaxDuration time.Duration
	flagHistoryDB   string
)

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, impactCmd, planCmd} {
		c.Flags().StringVar(&flagConfidence, "confidence", "Medium", "Confidence level: Fast|Medium|High|Full")
		c.Flags().IntVar(&flagMaxTests, "max-tests", 0, "Override the confidence level's test-count cap (0 = use the preset)")
		c.Flags().DurationVar(&flagMaxDuration, "max-duration", 0, "Override the confidence level's duration budget (0 = use the preset)")
		c.Flags().StringVar(&flagHistoryDB, "history-db", "", "Path to a sqlite execution-history database (optional)")
	}
}

func resolveConfidence() (types.ConfidenceLevel, error) {
	lower := strings.ToLower(flagConfidence)
	for name, level := range types.ConfidenceLevels {
		if strings.ToLower(string(name)) == lower {
			return level, nil
		}
	}
	return types.ConfidenceLevel{}, fmt.Errorf("unknown --confidence %q (want Fast|Medium|High|Full)", flagConfidence)
}

func resolvePlannerOptions() planner.Options {
	return planner.Options{
		MaxTests:    flagMaxTests,
		MaxDuration: flagMaxDuration,
	}
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score every discovered test against a diff",
	RunE:  runAnalyze,
}

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "List tests impacted by a diff, above the confidence floor",
	RunE:  runImpact,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a batched, parallel-safe execution plan for a diff",
	RunE:  runPlan,
}

func buildPlan(cmd *cobra.Command) (types.ExecutionPlan, error) {
	diffText, err := readDiffText()
	if err != nil {
		return types.ExecutionPlan{}, err
	}
	confidence, err := resolveConfidence()
	if err != nil {
		return types.ExecutionPlan{}, err
	}

	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return types.ExecutionPlan{}, err
	}
	defer h.Dispose()

	hist, err := loadHistoryFor(ctx, h)
	if err != nil {
		return types.ExecutionPlan{}, err
	}

	return h.AnalyzeDiff(ctx, diffText, confidence, resolvePlannerOptions(), hist)
}

// loadHistoryFor opens --history-db (if set) and loads execution-
// history records for every discovered test, so AnalyzeDiff can fold
// historical flakiness/duration into its scoring. A nil map leaves the
// scorer on its neutral defaults.
func loadHistoryFor(ctx context.Context, h *engine.Handle) (map[types.MethodId][]types.ExecutionRecord, error) {
	if flagHistoryDB == "" {
		return nil, nil
	}

	store, err := history.Open(flagHistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	defer store.Close()

	discovered, err := h.DiscoverTests(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]types.MethodId, len(discovered.Tests))
	for i, t := range discovered.Tests {
		ids[i] = t.ID
	}
	return store.LoadHistory(ctx, ids)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	plan, err := buildPlan(cmd)
	if err != nil {
		return err
	}
	return writeResult(plan.Tests, renderScoredTests)
}

func runImpact(cmd *cobra.Command, args []string) error {
	plan, err := buildPlan(cmd)
	if err != nil {
		return err
	}
	impacted := make([]types.TestInfo, 0, len(plan.Tests))
	for _, t := range plan.Tests {
		if t.Score >= plan.Confidence.ScoreFloor {
			impacted = append(impacted, t)
		}
	}
	return writeResult(impacted, renderScoredTests)
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := buildPlan(cmd)
	if err != nil {
		return err
	}
	return writeResult(plan, renderPlan)
}

func renderScoredTests(v interface{}) string {
	tests := v.([]types.TestInfo)
	var b strings.Builder
	for _, t := range tests {
		fmt.Fprintf(&b, "%.2f  %s\n", t.Score, t.Entry.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPlan(v interface{}) string {
	plan := v.(types.ExecutionPlan)
	var b strings.Builder
	fmt.Fprintf(&b, "confidence=%s tests=%d batches=%d estimated=%s demotedMockPaths=%d\n",
		plan.Confidence.Name, len(plan.Tests), len(plan.Batches), plan.EstimatedDuration, plan.DemotedMockPaths)
	for _, batch := range plan.Batches {
		fmt.Fprintf(&b, "batch %d (parallel=%v, %s):\n", batch.Number, batch.CanParallelize, batch.EstimatedDuration)
		for _, t := range batch.Tests {
			fmt.Fprintf(&b, "  %.2f  %s\n", t.Score, t.Entry.ID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
