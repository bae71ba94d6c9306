// Command testimpact is the CLI surface over the impact engine (spec
// §6): one verb per primary operation, sharing the --solution,
// --output, --format, --verbose, and --config flags across every
// subcommand, following the teacher's cmd/nerd root-command-plus-
// file-split layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"testimpact/internal/logging"
)

const (
	exitSuccess        = 0
	exitUserError      = 1
	exitPartialSuccess = 2
	exitCancelled      = 3
	exitInternal       = 64
)

var (
	flagSolution string
	flagOutput   string
	flagFormat   string
	flagVerbose  bool
	flagConfig   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "testimpact",
	Short: "Determine which tests must run for a given code change",
	Long: `testimpact analyzes a multi-project .NET solution and answers one
question with high precision: given a code change, which tests must run
to validate it?

It builds a method-level call graph across the solution, inverts it
into a coverage map from production methods to the tests that
transitively exercise them, and scores candidate tests against a
change-set to produce an execution plan under a confidence/time
budget.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		if flagVerbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		logging.Configure(flagVerbose)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSolution, "solution", ".", "Path to the solution root")
	rootCmd.PersistentFlags().StringVar(&flagOutput, "output", "", "Write result to this file instead of stdout")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "Output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a JSON config file")

	rootCmd.AddCommand(
		discoverCmd,
		categorizeCmd,
		analyzeCmd,
		impactCmd,
		diffCmd,
		planCmd,
		findTestsCmd,
		coverageMapCmd,
		statsCmd,
		compareTestsCmd,
		explainCmd,
		serveCmd,
	)
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return exitSuccess
}
