package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/channel"
)

// buildMacro assembles a workflow with a macro between two leaf nodes:
//
//	a -> [min -> inner -> mout] -> b
//
// and returns the pieces needed by the tests.
func buildMacro(t *testing.T) (s *Scheme, a, b, inner *SchemeNode, meta *MetaNode, in *InputNode, out *OutputNode) {
	t.Helper()
	s = NewScheme(WithRegistry(testRegistry(t)))
	a, b, inner = numberNode("a"), numberNode("b"), numberNode("inner")
	meta = NewMetaNode("macro")
	mustAddNodes(t, s, a, meta, b)
	require.NoError(t, meta.AddNode(inner))

	var err error
	in, err = meta.CreateInputNode(channel.NewInput("min", []string{"Number"}, 0))
	require.NoError(t, err)
	out, err = meta.CreateOutputNode(channel.NewOutput("mout", []string{"Number"}, 0))
	require.NoError(t, err)

	_, err = s.NewLink(in, "min", inner, "in", meta)
	require.NoError(t, err)
	_, err = s.NewLink(inner, "out", out, "mout", meta)
	require.NoError(t, err)
	_, err = s.NewLink(a, "out", meta, "min", nil)
	require.NoError(t, err)
	_, err = s.NewLink(meta, "mout", b, "in", nil)
	require.NoError(t, err)
	return s, a, b, inner, meta, in, out
}

func TestBoundaryChannelsMirrorBoundaryNodes(t *testing.T) {
	_, _, _, _, meta, in, out := buildMacro(t)

	require.Len(t, meta.InputChannels(), 1)
	require.Len(t, meta.OutputChannels(), 1)
	assert.Equal(t, "min", meta.InputChannels()[0].Name())
	assert.Equal(t, "mout", meta.OutputChannels()[0].Name())

	gotIn, err := meta.NodeForInputChannel(meta.InputChannels()[0])
	require.NoError(t, err)
	assert.Same(t, in, gotIn)
	gotOut, err := meta.NodeForOutputChannel(meta.OutputChannels()[0])
	require.NoError(t, err)
	assert.Same(t, out, gotOut)

	require.NoError(t, meta.RemoveNode(in))
	assert.Empty(t, meta.InputChannels())
	assert.Len(t, meta.OutputChannels(), 1)
}

func TestTraversalStepsThroughBoundaries(t *testing.T) {
	s, a, b, inner, _, in, out := buildMacro(t)

	assert.Equal(t, []Node{in}, NodeDependents(a))
	assert.Equal(t, []Node{inner}, NodeDependents(in))
	assert.Equal(t, []Node{out}, NodeDependents(inner))
	assert.Equal(t, []Node{b}, NodeDependents(out))

	assert.Equal(t, []Node{out}, NodeDependencies(b))
	assert.Equal(t, []Node{a}, NodeDependencies(in))

	assert.Equal(t, []Node{in, inner, out, b}, s.DownstreamNodes(a))
	assert.Equal(t, []Node{out, inner, in, a}, s.UpstreamNodes(b))
	assert.True(t, s.IsAncestor(a, b))
}

func TestRemoveBoundaryNodeDropsParentScopeLinks(t *testing.T) {
	s, a, _, _, meta, in, _ := buildMacro(t)

	require.Len(t, s.Links(), 4)
	require.NoError(t, meta.RemoveNode(in))

	// Both the outer link into the macro and the inner link from the
	// boundary node are gone.
	assert.Len(t, s.Links(), 2)
	assert.Empty(t, s.FindLinks(LinkFilter{SourceNode: a}))
	assert.Empty(t, s.FindLinks(LinkFilter{SourceNode: in}))
	assert.Empty(t, NodeDependents(a))
}

func TestRemoveMetaNodeDetachesContents(t *testing.T) {
	s, _, _, inner, meta, _, _ := buildMacro(t)

	require.NoError(t, s.RemoveNode(meta, nil))
	assert.Len(t, s.Nodes(), 2)
	assert.Len(t, s.Links(), 0)
	assert.Nil(t, meta.Workflow())
	assert.Nil(t, inner.Workflow())
	// The macro keeps its internal structure for reuse elsewhere.
	assert.Len(t, meta.Nodes(), 3)
	assert.Len(t, meta.Links(), 2)
}

func TestAllNodesIncludesNested(t *testing.T) {
	s, a, b, inner, meta, in, out := buildMacro(t)

	nodes := s.Nodes()
	assert.Len(t, nodes, 6)
	for _, n := range []Node{a, meta, b, inner, in, out} {
		assert.Contains(t, nodes, n)
	}
	assert.Len(t, s.Links(), 4)
	assert.Len(t, meta.AllNodes(), 3)
}

func TestMetaNodeClear(t *testing.T) {
	_, _, _, _, meta, _, _ := buildMacro(t)

	meta.Clear()
	assert.Empty(t, meta.Nodes())
	assert.Empty(t, meta.Links())
	assert.Empty(t, meta.InputChannels())
	assert.Empty(t, meta.OutputChannels())
}

func TestLinkRequiresMembership(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b := numberNode("a"), numberNode("b")
	mustAddNodes(t, s, a)
	meta := NewMetaNode("macro")
	require.NoError(t, s.AddNode(meta, nil))
	require.NoError(t, meta.AddNode(b))

	// Nodes in different containers cannot be linked directly.
	link, err := NewLinkByName(s.Registry(), a, "out", b, "in")
	require.NoError(t, err)
	err = s.AddLink(link, nil)
	require.ErrorIs(t, err, ErrNotInContainer)
}

func TestAddNodeTwiceRejected(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a := numberNode("a")
	mustAddNodes(t, s, a)
	require.ErrorIs(t, s.AddNode(a, nil), ErrAlreadyInWorkflow)

	other := NewScheme(WithRegistry(testRegistry(t)))
	require.ErrorIs(t, other.AddNode(a, nil), ErrAlreadyInWorkflow)
}
