// Package types holds the data model shared across every engine
// component: method identifiers, the call graph's node/edge shapes,
// coverage records, change-sets, and the execution-plan DTOs that
// cross the library boundary. Keeping these in one leaf package lets
// every analysis stage depend on a single vocabulary without import cycles.
package types

import "time"

// MethodId is the canonical, fully-qualified method signature string
// used as the primary key across the symbol index, call graph,
// coverage index, and scorer. Two requests for the same declaration
// must produce byte-identical MethodId strings.
type MethodId string

// Access is a member's declared visibility.
type Access string

const (
	AccessPublic    Access = "public"
	AccessProtected Access = "protected"
	AccessInternal  Access = "internal"
	AccessPrivate   Access = "private"
)

// TypeId identifies a type (class/interface/struct/record) by its
// fully-qualified name.
type TypeId string

// MethodNode is a method declaration discovered by the symbol index.
// Owned by the workspace's symbol index; immutable once created until the workspace is disposed.
type MethodNode struct {
	ID                  MethodId
	DefinedIn           string
	Line                uint32
	IsTest              bool
	Access              Access
	IsAbstract          bool
	IsVirtual           bool
	IsOverride          bool
	IsExtension         bool
	DeclaringInterfaces map[TypeId]struct{}
}

// DispatchKind classifies how a call site resolves to its target.
type DispatchKind string

const (
	DispatchDirect          DispatchKind = "Direct"
	DispatchVirtualOrIface  DispatchKind = "VirtualOrInterface"
	DispatchExtension       DispatchKind = "Extension"
	DispatchConstructor     DispatchKind = "Constructor"
	DispatchDelegateInvoke  DispatchKind = "DelegateInvoke"
	DispatchDynamicDispatch DispatchKind = "DynamicDispatch"
)

// CallSite pinpoints the syntactic location of an invocation.
type CallSite struct {
	File string
	Line int
	Col  int
}

// CallEdge is one edge of the call-graph multigraph G = (M, E).
type CallEdge struct {
	From             MethodId
	To               MethodId
	Site             CallSite
	Kind             DispatchKind
	ResolvedConcrete bool
}

// EdgeConfidence returns the per-edge confidence contributing to a
// CoveragePath's product confidence (spec §3 CoveragePath).
func EdgeConfidence(kind DispatchKind, resolvedConcrete, inMockNamespace bool) float64 {
	if inMockNamespace {
		return 0.2
	}
	switch kind {
	case DispatchDirect, DispatchConstructor:
		return 1.0
	case DispatchExtension:
		return 0.85
	case DispatchVirtualOrIface:
		if resolvedConcrete {
			return 0.6
		}
		return 0.3
	case DispatchDelegateInvoke, DispatchDynamicDispatch:
		if resolvedConcrete {
			return 0.6
		}
		return 0.3
	default:
		return 0.3
	}
}

// Framework is the test framework detected for a TestEntry.
type Framework string

const (
	FrameworkNUnit   Framework = "NUnit"
	FrameworkXUnit   Framework = "XUnit"
	FrameworkMSTest  Framework = "MSTest"
	FrameworkUnknown Framework = "Unknown"
)

// TestCategory is the classifier's category assignment (spec §4.3).
type TestCategory string

const (
	CategoryE2E         TestCategory = "e2e"
	CategoryIntegration TestCategory = "integration"
	CategoryPerformance TestCategory = "perf"
	CategorySecurity    TestCategory = "security"
	CategoryDatabase    TestCategory = "db"
	CategoryAPI         TestCategory = "api"
	CategoryUI          TestCategory = "ui"
	CategoryUnit        TestCategory = "unit"
)

// TestEntry is a method identified as a test entry point.
type TestEntry struct {
	ID                       MethodId     `json:"id"`
	Framework                Framework    `json:"framework"`
	Category                 TestCategory `json:"category"`
	ClassificationConfidence float64      `json:"classificationConfidence"`
}

// CoveragePath is an ordered walk from a TestEntry to a production
// method. PathConfidence is the product of per-edge confidences.
type CoveragePath struct {
	Nodes          []MethodId `json:"nodes"`
	PathConfidence float64    `json:"pathConfidence"`
}

// CoverageEntry is one (test, path, confidence) triple for a given
// production method.
type CoverageEntry struct {
	Test           TestEntry    `json:"test"`
	Path           CoveragePath `json:"path"`
	PathConfidence float64      `json:"pathConfidence"`
}

// CoverageStatistics summarizes a CoverageMap.
type CoverageStatistics struct {
	TotalMethods       int                  `json:"totalMethods"`
	CoveredMethods     int                  `json:"coveredMethods"`
	TotalTests         int                  `json:"totalTests"`
	TotalRelationships int                  `json:"totalRelationships"`
	CoverageByTestType map[TestCategory]int `json:"coverageByTestType"`
}

// ChangeKind classifies a CodeChange.
type ChangeKind string

const (
	ChangeAdded         ChangeKind = "Added"
	ChangeModified      ChangeKind = "Modified"
	ChangeDeleted       ChangeKind = "Deleted"
	ChangeRenamed       ChangeKind = "Renamed"
	ChangeConfiguration ChangeKind = "Configuration"
)

// CodeChange is one file-level record in a ChangeSet.
type CodeChange struct {
	File           string                `json:"file"`
	Kind           ChangeKind            `json:"kind"`
	ChangedMethods map[MethodId]struct{} `json:"changedMethods"`
	ChangedTypes   map[TypeId]struct{}   `json:"changedTypes"`
	StartLine      int                   `json:"startLine"`
	EndLine        int                   `json:"endLine"`
}

// ChangeSet is an ordered collection of CodeChange records, the
// change-set parser's output.
type ChangeSet struct {
	Changes []CodeChange `json:"changes"`
}

// DataDependencyKind classifies a test's external resource usage.
type DataDependencyKind string

const (
	DepDatabase        DataDependencyKind = "Database"
	DepFileSystem      DataDependencyKind = "FileSystem"
	DepNetwork         DataDependencyKind = "Network"
	DepCache           DataDependencyKind = "Cache"
	DepExternalService DataDependencyKind = "ExternalService"
	DepConfiguration   DataDependencyKind = "Configuration"
)

// AccessMode is how a DataDependency touches its resource.
type AccessMode string

const (
	AccessRead      AccessMode = "Read"
	AccessWrite     AccessMode = "Write"
	AccessReadWrite AccessMode = "ReadWrite"
	AccessCreate    AccessMode = "Create"
	AccessUpdate    AccessMode = "Update"
	AccessDelete    AccessMode = "Delete"
)

// DataDependency is one test's observed external-resource usage.
type DataDependency struct {
	Test     MethodId               `json:"test"`
	Kind     DataDependencyKind     `json:"kind"`
	Resource string                 `json:"resource"`
	Access   AccessMode             `json:"access"`
	Entities map[string]struct{}   `json:"entities"`
}

// ConflictKind classifies why two tests cannot safely run in parallel.
type ConflictKind string

const (
	ConflictSharedData         ConflictKind = "SharedData"
	ConflictExclusiveResource  ConflictKind = "ExclusiveResource"
	ConflictOrderDependency    ConflictKind = "OrderDependency"
	ConflictSharedFixture      ConflictKind = "SharedFixture"
	ConflictResourceContention ConflictKind = "ResourceContention"
	ConflictRaceCondition      ConflictKind = "RaceCondition"
)

// Severity ranks a Conflict's risk.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Med"
	SeverityHigh   Severity = "High"
)

// Conflict is a pairwise incompatibility between two tests.
type Conflict struct {
	TestA            MethodId     `json:"testA"`
	TestB            MethodId     `json:"testB"`
	Kind             ConflictKind `json:"kind"`
	Severity         Severity     `json:"severity"`
	PreventsParallel bool         `json:"preventsParallel"`
}

// ExecutionRecord is one historical run of a test (optional input,
// normally supplied by internal/history rather than the engine itself).
type ExecutionRecord struct {
	RanAt      time.Time `json:"ranAt"`
	DurationMs int64     `json:"durationMs"`
	Passed     bool      `json:"passed"`
}

// TestInfo combines a TestEntry with runtime metadata used by the
// scorer and planner.
type TestInfo struct {
	Entry                TestEntry              `json:"entry"`
	AverageExecutionTime time.Duration          `json:"averageExecutionTime"`
	ExecutionHistory     []ExecutionRecord      `json:"executionHistory,omitempty"`
	Dependencies         map[MethodId]struct{}  `json:"dependencies,omitempty"`
	Tags                 map[string]struct{}    `json:"tags,omitempty"`
	Priority             int32                  `json:"priority"`
	Score                float64                `json:"score"`
}

// ConfidenceName is one of the four fixed confidence-level presets.
type ConfidenceName string

const (
	ConfidenceFast   ConfidenceName = "Fast"
	ConfidenceMedium ConfidenceName = "Medium"
	ConfidenceHigh   ConfidenceName = "High"
	ConfidenceFull   ConfidenceName = "Full"
)

// ConfidenceLevel bundles the score floor, time budget, and test-count
// cap for a named confidence preset (spec §3).
type ConfidenceLevel struct {
	Name        ConfidenceName `json:"name"`
	ScoreFloor  float64        `json:"scoreFloor"`
	MaxDuration time.Duration  `json:"maxDuration"`
	MaxTests    int            `json:"maxTests"` // 0 means unbounded (Full)
}

// ConfidenceLevels holds the fixed defaults from spec §3/§4.9.
var ConfidenceLevels = map[ConfidenceName]ConfidenceLevel{
	ConfidenceFast: {
		Name: ConfidenceFast, ScoreFloor: 0.6,
		MaxDuration: 30 * time.Second, MaxTests: 50,
	},
	ConfidenceMedium: {
		Name: ConfidenceMedium, ScoreFloor: 0.45,
		MaxDuration: 5 * time.Minute, MaxTests: 200,
	},
	ConfidenceHigh: {
		Name: ConfidenceHigh, ScoreFloor: 0.25,
		MaxDuration: 15 * time.Minute, MaxTests: 1000,
	},
	ConfidenceFull: {
		Name: ConfidenceFull, ScoreFloor: 0.0,
		MaxDuration: time.Hour, MaxTests: 0,
	},
}

// ScoreThresholds mirrors §4.9's selection score (these match the
// published defaults above but named so the planner can read either).
var ScoreThresholds = map[ConfidenceName]float64{
	ConfidenceFast:   0.6,
	ConfidenceMedium: 0.45,
	ConfidenceHigh:   0.25,
	ConfidenceFull:   0.0,
}

// Batch is a group of tests admitted to a plan that may run in
// parallel without data conflicts.
type Batch struct {
	ID                string        `json:"id"`
	Number            int           `json:"number"`
	Tests             []TestInfo    `json:"tests"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	CanParallelize    bool          `json:"canParallelize"`
}

// PlanState is the per-query state machine (§4.9).
type PlanState string

const (
	PlanInit     PlanState = "Init"
	PlanScored   PlanState = "Scored"
	PlanSelected PlanState = "Selected"
	PlanBatched  PlanState = "Batched"
	PlanEmitted  PlanState = "Emitted"
)

// ExecutionPlan is the final, immutable output of analyzeDiff/plan.
type ExecutionPlan struct {
	ID                string          `json:"id"`
	Version           int             `json:"version"`
	Tests             []TestInfo      `json:"tests"`
	Confidence        ConfidenceLevel `json:"confidence"`
	EstimatedDuration time.Duration   `json:"estimatedDuration"`
	Batches           []Batch         `json:"batches"`
	State             PlanState       `json:"state"`
	DemotedMockPaths  int             `json:"demotedMockPaths"`
}
