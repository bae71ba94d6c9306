package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"testimpact/internal/types"
	"testimpact/internal/workspace"
)

func TestFixtureReadOnly_TrueOnlyForReadOnlyAttribute(t *testing.T) {
	idx := workspace.NewSymbolIndex()
	idx.AddType(workspace.TypeDecl{ID: "Ns.SharedFixture", Kind: "class"})
	idx.AddTypeAttributes("Ns.SharedFixture", []string{"ReadOnlyFixture"})
	idx.AddType(workspace.TypeDecl{ID: "Ns.MutableFixture", Kind: "class"})

	check := fixtureReadOnly(idx)
	assert.True(t, check(types.TypeId("Ns.SharedFixture")))
	assert.False(t, check(types.TypeId("Ns.MutableFixture")))
	assert.False(t, check(types.TypeId("Ns.Unknown")))
}
