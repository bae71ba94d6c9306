// Package httpapi is the optional HTTP façade spec §6 allows: one
// endpoint per primary library operation, JSON request/response bodies
// mirroring the DTOs in internal/types. It owns no engine state of its
// own — every request opens (and disposes) its own engine.Handle
// against the solution root given in the request, the same
// explicit-handle-per-call discipline the CLI layer follows.
//
// Grounded on the teacher's internal/auth/antigravity/server.go: a
// plain net/http.ServeMux wired directly by the caller rather than a
// web framework, since this is a small, internal callback-style
// surface rather than a public API server.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"testimpact/internal/config"
	"testimpact/internal/engine"
	"testimpact/internal/logging"
	"testimpact/internal/planner"
	"testimpact/internal/types"
)

// NewMux builds the façade's handler tree. cfg supplies the engine
// config every request's Handle is opened with; callers vary
// --solution per request body, not per server instance.
func NewMux(cfg config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/discover", handleDiscover(cfg))
	mux.HandleFunc("/coverage-map", handleCoverageMap(cfg))
	mux.HandleFunc("/find-tests", handleFindTests(cfg))
	mux.HandleFunc("/stats", handleStats(cfg))
	mux.HandleFunc("/analyze", handleAnalyze(cfg))
	mux.HandleFunc("/compare-tests", handleCompareTests(cfg))
	return mux
}

type solutionRequest struct {
	SolutionRoot string `json:"solutionRoot"`
}

func openHandle(ctx context.Context, cfg config.Config, solutionRoot string) (*engine.Handle, error) {
	if solutionRoot == "" {
		return nil, types.NewInvalidInput("httpapi", "solutionRoot is required")
	}
	return engine.Open(ctx, solutionRoot, cfg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var engErr *types.EngineError
	if errors.As(err, &engErr) {
		switch engErr.Kind {
		case types.ErrInvalidInput, types.ErrParseFailure, types.ErrUnresolved:
			status = http.StatusBadRequest
		case types.ErrDisposed:
			status = http.StatusGone
		case types.ErrCancelled, types.ErrTimedOut:
			status = http.StatusRequestTimeout
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func handleDiscover(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req solutionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h, err := openHandle(r.Context(), cfg, req.SolutionRoot)
		if err != nil {
			writeError(w, err)
			return
		}
		defer h.Dispose()

		result, err := h.DiscoverTests(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleCoverageMap(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req solutionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h, err := openHandle(r.Context(), cfg, req.SolutionRoot)
		if err != nil {
			writeError(w, err)
			return
		}
		defer h.Dispose()

		cov, err := h.BuildCoverageMap(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make(map[types.MethodId][]types.CoverageEntry)
		for _, m := range cov.CoveredMethods() {
			out[m] = cov.TestsCovering(m)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type findTestsRequest struct {
	SolutionRoot string         `json:"solutionRoot"`
	Method       types.MethodId `json:"method"`
}

func handleFindTests(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req findTestsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h, err := openHandle(r.Context(), cfg, req.SolutionRoot)
		if err != nil {
			writeError(w, err)
			return
		}
		defer h.Dispose()

		entries, err := h.TestsExercisingMethod(r.Context(), req.Method)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleStats(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req solutionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h, err := openHandle(r.Context(), cfg, req.SolutionRoot)
		if err != nil {
			writeError(w, err)
			return
		}
		defer h.Dispose()

		stats, err := h.CoverageStatistics(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type analyzeRequest struct {
	SolutionRoot string               `json:"solutionRoot"`
	DiffText     string               `json:"diffText"`
	Confidence   types.ConfidenceName `json:"confidence"`
	MaxTests     int                  `json:"maxTests"`
	MaxDuration  time.Duration        `json:"maxDuration"`
}

func handleAnalyze(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		level, ok := types.ConfidenceLevels[req.Confidence]
		if !ok {
			level = types.ConfidenceLevels[types.ConfidenceMedium]
		}

		h, err := openHandle(r.Context(), cfg, req.SolutionRoot)
		if err != nil {
			writeError(w, err)
			return
		}
		defer h.Dispose()

		opts := planner.Options{MaxTests: req.MaxTests, MaxDuration: req.MaxDuration}
		plan, err := h.AnalyzeDiff(r.Context(), req.DiffText, level, opts, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

type compareTestsRequest struct {
	SolutionRoot string         `json:"solutionRoot"`
	Test1        types.MethodId `json:"test1"`
	Test2        types.MethodId `json:"test2"`
}

func handleCompareTests(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req compareTestsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h, err := openHandle(r.Context(), cfg, req.SolutionRoot)
		if err != nil {
			writeError(w, err)
			return
		}
		defer h.Dispose()

		conflict, err := h.CompareTests(r.Context(), req.Test1, req.Test2)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"independent": conflict == nil,
			"conflict":    conflict,
		})
	}
}

func withAccessLog(next http.Handler) http.Handler {
	log := logging.For(logging.CategoryCLI)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Serve blocks serving the façade on addr until ctx is cancelled, then
// shuts down gracefully, mirroring the teacher's listen/wait/shutdown
// structure in StartCallbackServer.
func Serve(ctx context.Context, addr string, cfg config.Config) error {
	server := &http.Server{Addr: addr, Handler: withAccessLog(NewMux(cfg))}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
