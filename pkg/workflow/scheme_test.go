package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/channel"
)

func testRegistry(t *testing.T) *channel.Registry {
	t.Helper()
	r := channel.NewRegistry(nil)
	require.NoError(t, r.Register(
		channel.NewType[float64]("Number"),
		channel.NewType[string]("Text"),
	))
	return r
}

// numberNode is a node with a single-connection Number input "in" and a
// Number output "out".
func numberNode(title string) *SchemeNode {
	return NewSchemeNode(Description{
		Name:          title,
		QualifiedName: "test." + title,
		Inputs:        []*channel.Input{channel.NewInput("in", []string{"Number"}, 0)},
		Outputs:       []*channel.Output{channel.NewOutput("out", []string{"Number"}, 0)},
	}, "")
}

// multiNumberNode is numberNode with a Multiple input.
func multiNumberNode(title string) *SchemeNode {
	return NewSchemeNode(Description{
		Name:          title,
		QualifiedName: "test." + title,
		Inputs:        []*channel.Input{channel.NewInput("in", []string{"Number"}, channel.Multiple)},
		Outputs:       []*channel.Output{channel.NewOutput("out", []string{"Number"}, 0)},
	}, "")
}

func textSourceNode(title string) *SchemeNode {
	return NewSchemeNode(Description{
		Name:          title,
		QualifiedName: "test." + title,
		Outputs:       []*channel.Output{channel.NewOutput("out", []string{"Text"}, 0)},
	}, "")
}

func mustAddNodes(t *testing.T, s *Scheme, nodes ...Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, s.AddNode(n, nil))
	}
}

func mustLink(t *testing.T, s *Scheme, source, sink Node) *Link {
	t.Helper()
	link, err := s.NewLink(source, "out", sink, "in", nil)
	require.NoError(t, err)
	return link
}

func TestCycleRejected(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b, c := numberNode("a"), numberNode("b"), numberNode("c")
	mustAddNodes(t, s, a, b, c)
	mustLink(t, s, a, b)
	mustLink(t, s, b, c)

	_, err := s.NewLink(c, "out", a, "in", nil)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, s.Links(), 2)
	assert.True(t, s.CreatesCycle(c, a))
	assert.False(t, s.CreatesCycle(a, c))
}

func TestSelfLoopRejected(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)), WithLoopFlags(AllowLoops))
	a := numberNode("a")
	mustAddNodes(t, s, a)

	_, err := s.NewLink(a, "out", a, "in", nil)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)

	s2 := NewScheme(WithRegistry(testRegistry(t)), WithLoopFlags(AllowLoops|AllowSelfLoops))
	b := numberNode("b")
	mustAddNodes(t, s2, b)
	_, err = s2.NewLink(b, "out", b, "in", nil)
	require.NoError(t, err)
}

func TestLoopsAllowed(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)), WithLoopFlags(AllowLoops))
	a, b := numberNode("a"), numberNode("b")
	mustAddNodes(t, s, a, b)
	mustLink(t, s, a, b)
	mustLink(t, s, b, a)
	assert.Len(t, s.Links(), 2)
}

func TestDuplicateLinkRejected(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b := numberNode("a"), multiNumberNode("b")
	mustAddNodes(t, s, a, b)
	mustLink(t, s, a, b)

	_, err := s.NewLink(a, "out", b, "in", nil)
	var dupErr *DuplicateLinkError
	require.ErrorAs(t, err, &dupErr)
	assert.Len(t, s.Links(), 1)
}

func TestIncompatibleChannelTypes(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	src, sink := textSourceNode("src"), numberNode("sink")
	mustAddNodes(t, s, src, sink)

	_, err := s.NewLink(src, "out", sink, "in", nil)
	var typeErr *IncompatibleChannelTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Empty(t, s.Links())
	assert.False(t, s.CanConnect(src, sink))
}

// A failed insert into an occupied single-connection sink must leave the
// workflow exactly as it was.
func TestSingleSinkOccupiedTransactional(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b, c := numberNode("a"), numberNode("b"), numberNode("c")
	mustAddNodes(t, s, a, b, c)
	first := mustLink(t, s, a, c)

	before := s.Links()
	link, err := NewLinkByName(s.Registry(), b, "out", c, "in")
	require.NoError(t, err)
	err = s.AddLink(link, nil)
	var occupied *SinkChannelOccupiedError
	require.ErrorAs(t, err, &occupied)
	assert.Equal(t, "in", occupied.Channel)

	assert.Equal(t, before, s.Links())
	assert.Equal(t, []*Link{first}, s.InputLinks(c))
	assert.Nil(t, link.Workflow())
}

func TestMultipleSinkAcceptsSeveralLinks(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b, c := numberNode("a"), numberNode("b"), multiNumberNode("c")
	mustAddNodes(t, s, a, b, c)
	mustLink(t, s, a, c)
	mustLink(t, s, b, c)
	assert.Len(t, s.InputLinks(c), 2)
}

func TestRemoveNodeCascadesLinks(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b, c := numberNode("a"), numberNode("b"), numberNode("c")
	mustAddNodes(t, s, a, b, c)
	mustLink(t, s, a, b)
	mustLink(t, s, b, c)

	require.NoError(t, s.RemoveNode(b, nil))
	assert.Empty(t, s.Links())
	assert.Len(t, s.Nodes(), 2)
	assert.Nil(t, b.Workflow())
}

func TestDisabledLinkExcludedFromTraversal(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b, c := numberNode("a"), numberNode("b"), numberNode("c")
	mustAddNodes(t, s, a, b, c)
	ab := mustLink(t, s, a, b)
	mustLink(t, s, b, c)

	assert.Equal(t, []Node{b, c}, s.DownstreamNodes(a))

	ab.SetEnabled(false)
	assert.Empty(t, s.DownstreamNodes(a))
	assert.Equal(t, []Node{b}, s.UpstreamNodes(c))

	// The disabled link still participates in cycle detection.
	assert.True(t, s.CreatesCycle(c, a))

	ab.SetEnabled(true)
	assert.Equal(t, []Node{b, c}, s.DownstreamNodes(a))
	assert.True(t, s.IsAncestor(a, c))
	assert.False(t, s.IsAncestor(c, a))
}

func TestEventOrderNodeAndLink(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	var kinds []EventKind
	cancel := s.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind()) })
	defer cancel()

	a, b := numberNode("a"), numberNode("b")
	mustAddNodes(t, s, a, b)
	link := mustLink(t, s, a, b)
	require.NoError(t, s.RemoveLink(link, nil))

	assert.Equal(t, []EventKind{
		NodeAdded, NodeAdded,
		OutputLinkAdded, InputLinkAdded, LinkAdded,
		InputLinkRemoved, OutputLinkRemoved, LinkRemoved,
	}, kinds)
}

func TestLinkEventsCarryIndex(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b, c := numberNode("a"), numberNode("b"), multiNumberNode("c")
	mustAddNodes(t, s, a, b, c)

	var indices []int
	cancel := s.Subscribe(func(ev Event) {
		if le, ok := ev.(*LinkEvent); ok && ev.Kind() == InputLinkAdded {
			indices = append(indices, le.Index)
		}
	})
	defer cancel()

	mustLink(t, s, a, c)
	mustLink(t, s, b, c)
	assert.Equal(t, []int{0, 1}, indices)
}

func TestRuntimeEnv(t *testing.T) {
	s := NewScheme()
	var events []*EnvChangedEvent
	cancel := s.Subscribe(func(ev Event) {
		if e, ok := ev.(*EnvChangedEvent); ok {
			events = append(events, e)
		}
	})
	defer cancel()

	s.SetRuntimeEnv("mode", "fast")
	s.SetRuntimeEnv("mode", "fast") // unchanged, no event
	s.SetRuntimeEnv("mode", "slow")

	v, ok := s.GetRuntimeEnv("mode")
	require.True(t, ok)
	assert.Equal(t, "slow", v)
	require.Len(t, events, 2)
	assert.Equal(t, "fast", events[0].Value)
	assert.Equal(t, "fast", events[1].OldValue)
	assert.Equal(t, "slow", events[1].Value)
}

func TestStateFlagsOccupyConsecutiveBits(t *testing.T) {
	for i, f := range []NodeState{Running, Pending, Invalidated, NotReady} {
		assert.Equal(t, NodeState(1<<i), f)
	}
	for i, f := range []LinkState{LinkEmpty, LinkActive, LinkPending, LinkInvalidated} {
		assert.Equal(t, LinkState(1<<i), f)
	}
	for i, f := range []LoopFlags{AllowLoops, AllowSelfLoops} {
		assert.Equal(t, LoopFlags(1<<i), f)
	}
}

func TestRuntimeEnvNonComparableValue(t *testing.T) {
	s := NewScheme()
	var events []*EnvChangedEvent
	cancel := s.Subscribe(func(ev Event) {
		if e, ok := ev.(*EnvChangedEvent); ok {
			events = append(events, e)
		}
	})
	defer cancel()

	paths := map[string]any{"workdir": "/tmp"}
	s.SetRuntimeEnv("paths", paths)
	s.SetRuntimeEnv("paths", paths) // non-comparable, always emits
	s.SetRuntimeEnv("limits", []int{1, 2})
	s.SetRuntimeEnv("limits", 3) // comparable replacing a slice

	v, ok := s.GetRuntimeEnv("paths")
	require.True(t, ok)
	assert.Equal(t, paths, v)
	require.Len(t, events, 4)
	assert.Equal(t, "limits", events[3].Key)
	assert.Equal(t, 3, events[3].Value)
}

func TestPossibleLinks(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b := numberNode("a"), numberNode("b")
	mustAddNodes(t, s, a, b)

	pairs := s.PossibleLinks(a, b)
	require.Len(t, pairs, 1)
	assert.Equal(t, "out", pairs[0].Source.Name())
	assert.Equal(t, "in", pairs[0].Sink.Name())
	assert.True(t, s.CanConnect(a, b))
}

func TestClear(t *testing.T) {
	s := NewScheme(WithRegistry(testRegistry(t)))
	a, b := numberNode("a"), numberNode("b")
	mustAddNodes(t, s, a, b)
	mustLink(t, s, a, b)
	require.NoError(t, s.AddAnnotation(NewTextAnnotation(Rect{}, "note", "text/plain"), nil))

	s.Clear()
	assert.Empty(t, s.Nodes())
	assert.Empty(t, s.Links())
	assert.Empty(t, s.Annotations())
}
