package testclassifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testimpact/internal/config"
	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

func TestClassify_NUnitAttributePrimaryRule(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	id := workspace.CanonicalMethodId("Ns.Tests.FooTests", "AddsNumbers", nil, nil)
	node := types.MethodNode{ID: id, DefinedIn: "tests/FooTests.cs", Access: types.AccessPublic}
	idx.AddMethodAttributes(id, []string{"NUnit.Framework.TestAttribute"})

	c := New(config.DefaultClassifierConfig())
	entry, ok := c.Classify(idx, node, "AddsNumbers")
	require.True(t, ok)
	assert.Equal(t, types.FrameworkNUnit, entry.Framework)
	assert.True(t, entry.ClassificationConfidence > 0.8)
}

func TestClassify_XUnitFactShortName(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	id := workspace.CanonicalMethodId("Ns.Tests.FooTests", "Works", nil, nil)
	node := types.MethodNode{ID: id, DefinedIn: "Foo.Tests.cs", Access: types.AccessPublic}
	idx.AddMethodAttributes(id, []string{"Fact"})

	c := New(config.DefaultClassifierConfig())
	entry, ok := c.Classify(idx, node, "Works")
	require.True(t, ok)
	assert.Equal(t, types.FrameworkXUnit, entry.Framework)
}

func TestClassify_SecondaryRuleRequiresTestProjectAndPublic(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	id := workspace.CanonicalMethodId("Ns.Tests.FooTests", "ShouldAddNumbers", nil, nil)
	node := types.MethodNode{ID: id, DefinedIn: "/repo/tests/FooTests.cs", Access: types.AccessPublic}

	c := New(config.DefaultClassifierConfig())
	entry, ok := c.Classify(idx, node, "ShouldAddNumbers")
	require.True(t, ok)
	assert.Equal(t, types.FrameworkUnknown, entry.Framework)
}

func TestClassify_SecondaryRuleDisabled(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	id := workspace.CanonicalMethodId("Ns.Tests.FooTests", "ShouldAddNumbers", nil, nil)
	node := types.MethodNode{ID: id, DefinedIn: "/repo/tests/FooTests.cs", Access: types.AccessPublic}

	c := New(config.ClassifierConfig{SecondaryRule: false})
	_, ok := c.Classify(idx, node, "ShouldAddNumbers")
	assert.False(t, ok)
}

func TestClassify_ProductionCodeNeverClassifiedWithoutAttribute(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	id := workspace.CanonicalMethodId("Ns.Services.FooService", "ShouldValidate", nil, nil)
	node := types.MethodNode{ID: id, DefinedIn: "src/FooService.cs", Access: types.AccessPublic}

	c := New(config.DefaultClassifierConfig())
	_, ok := c.Classify(idx, node, "ShouldValidate")
	assert.False(t, ok, "production code without attributes must never classify as a test, even with a conventional name")
}

func TestClassify_CategoryOrderingFirstMatchWins(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	id := workspace.CanonicalMethodId("Ns.Tests.ApiIntegrationTests", "CallsEndpoint", nil, nil)
	node := types.MethodNode{ID: id, DefinedIn: "tests/integration/ApiIntegrationTests.cs", Access: types.AccessPublic}
	idx.AddMethodAttributes(id, []string{"Test"})

	c := New(config.DefaultClassifierConfig())
	entry, ok := c.Classify(idx, node, "CallsEndpoint")
	require.True(t, ok)
	assert.Equal(t, types.CategoryIntegration, entry.Category, "Integration must win over API since it is earlier in the ordered table")
}

func TestClassify_ConfidenceClampedToOne(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	id := workspace.CanonicalMethodId("Ns.Tests.FooTests", "TestSomething", nil, nil)
	node := types.MethodNode{ID: id, DefinedIn: "tests/FooTests.cs", Access: types.AccessPublic}
	idx.AddMethodAttributes(id, []string{"Test"})

	c := New(config.DefaultClassifierConfig())
	entry, ok := c.Classify(idx, node, "TestSomething")
	require.True(t, ok)
	assert.LessOrEqual(t, entry.ClassificationConfidence, 1.0)
}
