// Package config loads engine configuration from JSON (and an
// optional project-local YAML override) with the precedence chain
// from spec §6: built-in defaults -> config file -> TI_-prefixed
// environment variables -> explicit CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProjectsConfig controls which projects under the solution root are
// analyzed.
type ProjectsConfig struct {
	Include         []string `json:"include" yaml:"include"`
	Exclude         []string `json:"exclude" yaml:"exclude"`
	TestProjectsOnly bool    `json:"testProjectsOnly" yaml:"testProjectsOnly"`
}

// DefaultProjectsConfig returns the spec §6 defaults.
func DefaultProjectsConfig() ProjectsConfig {
	return ProjectsConfig{
		Include:          []string{"*"},
		Exclude:          nil,
		TestProjectsOnly: true,
	}
}

// AnalysisConfig controls engine execution resource limits.
type AnalysisConfig struct {
	MaxParallelism      int           `json:"maxParallelism" yaml:"maxParallelism"`
	TimeoutSeconds      int           `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Verbose             bool          `json:"verbose" yaml:"verbose"`
	MaxDepth            int           `json:"maxDepth" yaml:"maxDepth"`
	PerTestEdgeBudget   int           `json:"perTestEdgeBudget" yaml:"perTestEdgeBudget"`
	BatchDurationBudget time.Duration `json:"batchDurationBudget" yaml:"batchDurationBudget"`
	ParseTimeout        time.Duration `json:"parseTimeout" yaml:"parseTimeout"`
	CoverageBFSTimeout  time.Duration `json:"coverageBFSTimeout" yaml:"coverageBFSTimeout"`
	PlanQueryTimeout    time.Duration `json:"planQueryTimeout" yaml:"planQueryTimeout"`
}

// DefaultAnalysisConfig returns the spec §4.4/§5/§9(b) defaults.
func DefaultAnalysisConfig(cpus int) AnalysisConfig {
	return AnalysisConfig{
		MaxParallelism:      cpus,
		TimeoutSeconds:      300,
		Verbose:             false,
		MaxDepth:            20,
		PerTestEdgeBudget:   50000,
		BatchDurationBudget: 5 * time.Minute,
		ParseTimeout:        5 * time.Minute,
		CoverageBFSTimeout:  30 * time.Second,
		PlanQueryTimeout:    60 * time.Second,
	}
}

// ClassifierConfig controls test-classifier rule toggles (spec §9 open question a).
type ClassifierConfig struct {
	SecondaryRule bool `json:"secondaryRule" yaml:"secondaryRule"`
}

// DefaultClassifierConfig ships the secondary rule enabled (see
// SPEC_FULL.md's Open Questions decision).
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{SecondaryRule: true}
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Format          string `json:"format" yaml:"format"` // "json" | "text"
	OutputDirectory string `json:"outputDirectory" yaml:"outputDirectory"`
}

// DefaultOutputConfig returns the spec §6 defaults.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{Format: "json", OutputDirectory: ""}
}

// Config is the top-level configuration loaded from --config.
type Config struct {
	Projects   ProjectsConfig   `json:"projects" yaml:"projects"`
	Analysis   AnalysisConfig   `json:"analysis" yaml:"analysis"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Output     OutputConfig     `json:"output" yaml:"output"`
}

// Default returns built-in defaults (lowest precedence tier).
func Default(cpus int) Config {
	return Config{
		Projects:   DefaultProjectsConfig(),
		Analysis:   DefaultAnalysisConfig(cpus),
		Classifier: DefaultClassifierConfig(),
		Output:     DefaultOutputConfig(),
	}
}

// Load reads the config file (if path is non-empty), then applies
// TI_-prefixed environment variable overrides, per spec §6's
// precedence chain. CLI flags are applied by the caller afterward
// since only the CLI layer knows which flags were explicitly set.
func Load(path string, cpus int) (Config, error) {
	cfg := Default(cpus)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place from TI_-prefixed environment
// variables. Unset variables leave the existing value untouched.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("TI_MAX_PARALLELISM"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MaxParallelism = n
		}
	}
	if v, ok := os.LookupEnv("TI_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.TimeoutSeconds = n
		}
	}
	if v, ok := os.LookupEnv("TI_VERBOSE"); ok {
		cfg.Analysis.Verbose = parseBool(v)
	}
	if v, ok := os.LookupEnv("TI_TEST_PROJECTS_ONLY"); ok {
		cfg.Projects.TestProjectsOnly = parseBool(v)
	}
	if v, ok := os.LookupEnv("TI_PROJECTS_INCLUDE"); ok {
		cfg.Projects.Include = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("TI_PROJECTS_EXCLUDE"); ok {
		cfg.Projects.Exclude = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("TI_OUTPUT_FORMAT"); ok {
		cfg.Output.Format = v
	}
	if v, ok := os.LookupEnv("TI_OUTPUT_DIR"); ok {
		cfg.Output.OutputDirectory = v
	}
	if v, ok := os.LookupEnv("TI_CLASSIFIER_SECONDARY_RULE"); ok {
		cfg.Classifier.SecondaryRule = parseBool(v)
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
