// Package testclassifier classifies methods: given a method's declaration
// metadata from the symbol index, decide whether it is a test entry
// point, its framework, its category, and a classification confidence.
package testclassifier

import (
	"regexp"
	"strings"

	"testimpact/internal/config"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

// attribute sets recognized by the primary rule (spec §4.3), keyed by
// lower-cased short attribute name. Both "Test" and "TestAttribute"
// spellings, and fully-qualified forms, normalize to the short name
// before lookup (see normalizeAttr).
var nunitAttrs = map[string]bool{"test": true, "testcase": true, "testfixturesource": true}
var xunitAttrs = map[string]bool{"fact": true, "theory": true}
var mstestAttrs = map[string]bool{"testmethod": true, "datatestmethod": true}

var conventionalNamePattern = regexp.MustCompile(`(?i)^(Test|Should|When|Given|Scenario|Example|Verify|Check|Ensure|Benchmark|Calculate).*`)
var testSuffixPattern = regexp.MustCompile(`(?i)(Tests?|Specs?)$`)

// categoryPattern is one entry of the ordered category-matching table
// (spec §4.3: first match wins).
type categoryPattern struct {
	category types.TestCategory
	tokens   []string
}

var categoryOrder = []categoryPattern{
	{types.CategoryE2E, []string{"e2e", "endtoend", "journey", "scenario"}},
	{types.CategoryIntegration, []string{"integration"}},
	{types.CategoryPerformance, []string{"performance", "benchmark"}},
	{types.CategorySecurity, []string{"security", "auth", "permission"}},
	{types.CategoryDatabase, []string{"database", "ef", "sql"}},
	{types.CategoryAPI, []string{"controller", "api", "http"}},
	{types.CategoryUI, []string{"selenium", "ui"}},
}

// Classifier is stateless aside from its configuration and
// safe for concurrent use.
type Classifier struct {
	cfg config.ClassifierConfig
}

// New returns a Classifier configured per cfg (§9.1(a) secondary-rule
// toggle).
func New(cfg config.ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify decides whether method is a test entry point. ok is false
// when neither the primary nor (if enabled) secondary rule fires.
func (c *Classifier) Classify(idx *workspace.SymbolIndex, method types.MethodNode, methodName string) (types.TestEntry, bool) {
	attrs := idx.MethodAttributes(method.ID)
	framework, primaryHit := matchPrimaryAttributes(attrs)

	containingType, _ := idx.ContainingType(method.ID)
	inTestProject := workspace.IsTestProjectPath(method.DefinedIn)

	var secondaryHit bool
	if !primaryHit && c.cfg.SecondaryRule && inTestProject {
		secondaryHit = method.Access == types.AccessPublic && matchesConventionalName(methodName)
	}

	if !primaryHit && !secondaryHit {
		return types.TestEntry{}, false
	}

	category := classifyCategory(method.DefinedIn, string(containingType), methodName)
	confidence := computeConfidence(primaryHit, secondaryHit, inTestProject, method.DefinedIn, string(containingType))

	return types.TestEntry{
		ID:                       method.ID,
		Framework:                framework,
		Category:                 category,
		ClassificationConfidence: confidence,
	}, true
}

// matchPrimaryAttributes checks attrs against the three frameworks'
// marker sets, comparing both short and fully-qualified forms
// case-insensitively. It returns the framework of the last matching
// attribute; a method carrying markers from more than one framework
// reports only that one.
func matchPrimaryAttributes(attrs []string) (types.Framework, bool) {
	hit := false
	var fw types.Framework = types.FrameworkUnknown
	for _, raw := range attrs {
		name := normalizeAttr(raw)
		switch {
		case nunitAttrs[name]:
			hit = true
			fw = types.FrameworkNUnit
		case xunitAttrs[name]:
			hit = true
			fw = types.FrameworkXUnit
		case mstestAttrs[name]:
			hit = true
			fw = types.FrameworkMSTest
		}
	}
	return fw, hit
}

// normalizeAttr strips a trailing "Attribute" suffix and namespace
// qualification, then lower-cases, so "NUnit.Framework.TestAttribute",
// "Test", and "TESTATTRIBUTE" all compare equal.
func normalizeAttr(raw string) string {
	s := raw
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(s, "Attribute")
	return strings.ToLower(s)
}

func matchesConventionalName(name string) bool {
	return conventionalNamePattern.MatchString(name) || testSuffixPattern.MatchString(name)
}

// classifyCategory applies the ordered pattern table against the
// method's file path and containing-type name; first match wins.
func classifyCategory(filePath, containingType, methodName string) types.TestCategory {
	haystack := strings.ToLower(filePath + " " + containingType + " " + methodName)
	for _, entry := range categoryOrder {
		for _, token := range entry.tokens {
			if strings.Contains(haystack, token) {
				return entry.category
			}
		}
	}
	return types.CategoryUnit
}

// computeConfidence accumulates the spec §4.3 point values and clamps
// to [0,1].
func computeConfidence(primaryHit, secondaryHit, inTestProject bool, filePath, containingType string) float64 {
	var score float64
	if primaryHit {
		score += 0.8
	}
	if secondaryHit {
		score += 0.4
	}
	if inTestProject {
		score += 0.3
	}
	if hasTestSuffixedFilename(filePath) {
		score += 0.2
	}
	if testSuffixPattern.MatchString(containingType) || conventionalNamePattern.MatchString(containingType) {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

func hasTestSuffixedFilename(filePath string) bool {
	base := filePath
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, ".cs")
	return testSuffixPattern.MatchString(base)
}
