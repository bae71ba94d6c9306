package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"testimpact/internal/types"
)

var (
	flagTest1 string
	flagTest2 string
)

var compareTestsCmd = &cobra.Command{
	Use:   "compare-tests",
	Short: "Report whether two tests conflict on shared data dependencies",
	RunE:  runCompareTests,
}

func init() {
	compareTestsCmd.Flags().StringVar(&flagTest1, "test1", "", "First test's MethodId (required)")
	compareTestsCmd.Flags().StringVar(&flagTest2, "test2", "", "Second test's MethodId (required)")
	compareTestsCmd.MarkFlagRequired("test1")
	compareTestsCmd.MarkFlagRequired("test2")
}

func runCompareTests(cmd *cobra.Command, args []string) error {
	if flagTest1 == "" || flagTest2 == "" {
		return fmt.Errorf("--test1 and --test2 are both required")
	}

	ctx := cmdContext(cmd)
	h, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer h.Dispose()

	conflict, err := h.CompareTests(ctx, types.MethodId(flagTest1), types.MethodId(flagTest2))
	if err != nil {
		return err
	}

	result := struct {
		Independent bool            `json:"independent"`
		Conflict    *types.Conflict `json:"conflict,omitempty"`
	}{Independent: conflict == nil, Conflict: conflict}

	return writeResult(result, func(v interface{}) string {
		r := v.(struct {
			Independent bool            `json:"independent"`
			Conflict    *types.Conflict `json:"conflict,omitempty"`
		})
		if r.Independent {
			return fmt.Sprintf("%s and %s are independent: safe to run in parallel", flagTest1, flagTest2)
		}
		return fmt.Sprintf("%s and %s conflict: %s (%s severity, preventsParallel=%v)",
			r.Conflict.TestA, r.Conflict.TestB, r.Conflict.Kind, r.Conflict.Severity, r.Conflict.PreventsParallel)
	})
}
