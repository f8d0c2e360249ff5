package dag

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamond() map[string][]string {
	return map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	_, err := Build(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildRejectsUnknownRequirement(t *testing.T) {
	_, err := Build(map[string][]string{
		"a": {"ghost"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job ghost")
}

func TestOrderIsRequirementsFirst(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.Order())
}

func TestOrderOfIndependentJobsIsAlphabetical(t *testing.T) {
	g, err := Build(map[string][]string{
		"Testing":     nil,
		"Formatting":  nil,
		"Install-pkg": nil,
		"Build-Docs":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Build-Docs", "Formatting", "Install-pkg", "Testing"}, g.Order())
}

func TestRootsAndDependencies(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, g.Roots())
	assert.Equal(t, []string{"b", "c"}, g.Dependencies("d"))
}

func TestDependents(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)

	direct, err := g.Dependents("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, direct)

	all, err := g.TransitiveDependents("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, all)

	none, err := g.TransitiveDependents("d")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRenderDOTIncludesNodesAndEdges(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)
	require.NoError(t, g.SetStatus("b", "failed"))
	require.NoError(t, g.SetStatus("a", "succeeded"))
	require.NoError(t, g.SetDuration("a", 1500*time.Millisecond))

	var buf bytes.Buffer
	require.NoError(t, g.RenderDOT(&buf, GraphAttribute("label", "build")))

	out := buf.String()
	assert.Contains(t, out, "strict digraph")
	assert.Contains(t, out, `rankdir="LR"`)
	assert.Contains(t, out, `label="build"`)
	assert.Contains(t, out, `"a" -> "b"`)
	assert.Contains(t, out, `"c" -> "d"`)
	assert.Contains(t, out, "lightcoral")
	assert.Contains(t, out, "palegreen")
	assert.Contains(t, out, "1.5s")
}

func TestApplyHeatColorsExtremes(t *testing.T) {
	g, err := Build(diamond())
	require.NoError(t, err)
	require.NoError(t, g.ApplyHeat(map[string]time.Duration{
		"a": time.Second,
		"b": 3 * time.Second,
	}))

	var buf bytes.Buffer
	require.NoError(t, g.RenderDOT(&buf))

	out := strings.ToLower(buf.String())
	assert.Contains(t, out, "#f00000")
	assert.Contains(t, out, "#0000f0")
}
