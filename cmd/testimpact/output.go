package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"testimpact/internal/config"
	"testimpact/internal/engine"
	"testimpact/internal/types"
)

// cmdContext returns cmd's context, falling back to Background when
// cmd was invoked outside Execute (e.g. directly from a test), the
// same guard the teacher's cmd_query.go applies before cmd.Context()
// is ever trusted.
func cmdContext(cmd interface{ Context() context.Context }) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig applies the spec §6 precedence chain for the tier this
// CLI owns: defaults -> config file -> env vars. Explicit flags are
// layered on top by each command's own flag parsing.
func loadConfig() (config.Config, error) {
	return config.Load(flagConfig, runtime.NumCPU())
}

// openEngine opens a Handle against --solution using the resolved config.
func openEngine(ctx context.Context) (*engine.Handle, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.Open(ctx, flagSolution, cfg)
}

// writeResult renders v per --format and writes it to --output (or
// stdout), and is the single place every command funnels its result
// through so formatting stays consistent across verbs.
func writeResult(v interface{}, textRender func(interface{}) string) error {
	var out []byte
	var err error

	switch flagFormat {
	case "text":
		out = []byte(textRender(v) + "\n")
	case "json", "":
		out, err = json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		out = append(out, '\n')
	default:
		return fmt.Errorf("unknown --format %q (want json|text)", flagFormat)
	}

	if flagOutput == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(flagOutput, out, 0o644)
}

// partialSuccessErr signals the spec §6 "partial success with errors"
// exit code (2) — the command completed but the result carries
// per-file ParseFailure entries a caller should notice.
type partialSuccessErr struct{ cause error }

func (e partialSuccessErr) Error() string { return e.cause.Error() }
func (e partialSuccessErr) Unwrap() error { return e.cause }

func newPartialSuccess(msg string) error {
	return partialSuccessErr{cause: fmt.Errorf("%s", msg)}
}

// exitCodeFor maps a returned error to the spec §6 exit-code table.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	var partial partialSuccessErr
	if errors.As(err, &partial) {
		return exitPartialSuccess
	}
	var engErr *types.EngineError
	if errors.As(err, &engErr) {
		switch engErr.Kind {
		case types.ErrInvalidInput, types.ErrParseFailure, types.ErrUnresolved:
			return exitUserError
		case types.ErrCancelled, types.ErrTimedOut:
			return exitCancelled
		case types.ErrDisposed, types.ErrInternal:
			return exitInternal
		}
	}
	return exitInternal
}
