package workflow

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/channel"
)

// LinkState is a bitmask of a link's runtime state flags.
type LinkState int

// LinkNoState means the link has no associated runtime state.
const LinkNoState LinkState = 0

const (
	// LinkEmpty is set while the link carries no value.
	LinkEmpty LinkState = 1 << iota

	// LinkActive is set while the source node provides a value on the
	// link's output channel.
	LinkActive

	// LinkPending is set while the sink node has not yet been notified of a
	// change. Empty|Pending is a valid state.
	LinkPending

	// LinkInvalidated is set while the source node has invalidated the
	// source channel; the execution manager must not propagate the link's
	// value until the flag clears.
	LinkInvalidated
)

// Link is a directed, typed edge between an output channel on a source
// node and an input channel on a sink node.
type Link struct {
	element
	registry       *channel.Registry
	sourceNode     Node
	sourceChannel  *channel.Output
	sinkNode       Node
	sinkChannel    *channel.Input
	enabled        bool
	dynamicEnabled bool
	state          LinkState
	toolTip        string
	properties     map[string]any
}

// NewLink creates a link between sourceChannel on sourceNode and
// sinkChannel on sinkNode. The channels must belong to the respective
// nodes and be type compatible under registry; otherwise an error is
// returned and no link is created. The link starts enabled.
func NewLink(registry *channel.Registry, sourceNode Node, sourceChannel *channel.Output,
	sinkNode Node, sinkChannel *channel.Input) (*Link, error) {
	if !containsOutput(sourceNode.OutputChannels(), sourceChannel) {
		return nil, fmt.Errorf("channel %q is not in node %q output channels: %w",
			sourceChannel.Name(), sourceNode.Title(), ErrNoSuchChannel)
	}
	if !containsInput(sinkNode.InputChannels(), sinkChannel) {
		return nil, fmt.Errorf("channel %q is not in node %q input channels: %w",
			sinkChannel.Name(), sinkNode.Title(), ErrNoSuchChannel)
	}
	if !registry.CompatibleChannels(sourceChannel, sinkChannel) {
		return nil, &IncompatibleChannelTypeError{
			SourceChannel: sourceChannel.Name(),
			SinkChannel:   sinkChannel.Name(),
		}
	}
	return &Link{
		element:       newElement(),
		registry:      registry,
		sourceNode:    sourceNode,
		sourceChannel: sourceChannel,
		sinkNode:      sinkNode,
		sinkChannel:   sinkChannel,
		enabled:       true,
		properties:    make(map[string]any),
	}, nil
}

// NewLinkByName is NewLink with the channels looked up by id or name.
func NewLinkByName(registry *channel.Registry, sourceNode Node, sourceChannel string,
	sinkNode Node, sinkChannel string) (*Link, error) {
	source, err := sourceNode.OutputChannel(sourceChannel)
	if err != nil {
		return nil, err
	}
	sink, err := sinkNode.InputChannel(sinkChannel)
	if err != nil {
		return nil, err
	}
	return NewLink(registry, sourceNode, source, sinkNode, sink)
}

func containsOutput(channels []*channel.Output, c *channel.Output) bool {
	for _, ch := range channels {
		if ch == c {
			return true
		}
	}
	return false
}

func containsInput(channels []*channel.Input, c *channel.Input) bool {
	for _, ch := range channels {
		if ch == c {
			return true
		}
	}
	return false
}

// SourceNode returns the link's source node.
func (l *Link) SourceNode() Node { return l.sourceNode }

// SourceChannel returns the link's source channel.
func (l *Link) SourceChannel() *channel.Output { return l.sourceChannel }

// SinkNode returns the link's sink node.
func (l *Link) SinkNode() Node { return l.sinkNode }

// SinkChannel returns the link's sink channel.
func (l *Link) SinkChannel() *channel.Input { return l.sinkChannel }

// Properties returns the link's opaque property bag.
func (l *Link) Properties() map[string]any { return l.properties }

// Registry returns the type registry the link was validated against.
func (l *Link) Registry() *channel.Registry { return l.registry }

// SourceTypes returns the resolved types of the source channel, omitting
// names that fail to resolve.
func (l *Link) SourceTypes() []channel.Type {
	return resolveTypes(l.registry, l.sourceChannel.Types())
}

// SinkTypes returns the resolved types of the sink channel, omitting names
// that fail to resolve.
func (l *Link) SinkTypes() []channel.Type {
	return resolveTypes(l.registry, l.sinkChannel.Types())
}

func resolveTypes(registry *channel.Registry, names []string) []channel.Type {
	types := make([]channel.Type, 0, len(names))
	for _, name := range names {
		if t, ok := registry.Resolve(name); ok {
			types = append(types, t)
		}
	}
	return types
}

// IsDynamic reports whether the link's static type check has been relaxed:
// the source channel is dynamic and the connection only passes the dynamic
// classification. Deliveries over a dynamic link are re-checked per value.
func (l *Link) IsDynamic() bool {
	if !l.sourceChannel.Dynamic() {
		return false
	}
	strict, dynamic := l.registry.ClassifyConnection(l.sourceChannel, l.sinkChannel)
	return !strict && dynamic
}

// IsEnabled reports whether the link is enabled.
func (l *Link) IsEnabled() bool { return l.enabled }

// SetEnabled enables or disables the link, notifying the link's observers
// and the workflow. Disabled links never propagate values or invalidation.
func (l *Link) SetEnabled(enabled bool) {
	if l.enabled == enabled {
		return
	}
	l.enabled = enabled
	ev := &LinkEvent{kind: LinkEnabledChanged, Link: l, Index: -1}
	l.emit(ev)
	l.emitWorkflow(ev)
}

// IsDynamicEnabled reports whether the link is dynamic and its last
// delivered value passed the runtime type check.
func (l *Link) IsDynamicEnabled() bool { return l.IsDynamic() && l.dynamicEnabled }

// SetDynamicEnabled records the outcome of the runtime type check for a
// dynamic link. It has no effect on non-dynamic links.
func (l *Link) SetDynamicEnabled(enabled bool) {
	if l.IsDynamic() {
		l.dynamicEnabled = enabled
	}
}

// RuntimeState returns the link's runtime state flags.
func (l *Link) RuntimeState() LinkState { return l.state }

// SetRuntimeState replaces the link's runtime state flags, notifying the
// sink node, the source node, the link's own observers and the workflow.
func (l *Link) SetRuntimeState(state LinkState) {
	if l.state == state {
		return
	}
	l.state = state
	l.sinkNode.base().emit(&LinkEvent{kind: InputLinkStateChanged, Link: l, Index: -1})
	l.sourceNode.base().emit(&LinkEvent{kind: OutputLinkStateChanged, Link: l, Index: -1})
	ev := &LinkEvent{kind: LinkStateChanged, Link: l, Index: -1}
	l.emit(ev)
	l.emitWorkflow(ev)
}

// SetRuntimeStateFlag turns the given runtime state flags on or off.
func (l *Link) SetRuntimeStateFlag(flags LinkState, on bool) {
	if on {
		l.SetRuntimeState(l.state | flags)
	} else {
		l.SetRuntimeState(l.state &^ flags)
	}
}

// TestRuntimeState reports whether all given runtime flags are set.
func (l *Link) TestRuntimeState(flags LinkState) bool {
	return l.state&flags == flags
}

// ToolTip returns the link's tool tip text.
func (l *Link) ToolTip() string { return l.toolTip }

// SetToolTip sets the link's tool tip text.
func (l *Link) SetToolTip(text string) { l.toolTip = text }

// String implements fmt.Stringer.
func (l *Link) String() string {
	return fmt.Sprintf("Link((%s, %s) -> (%s, %s))",
		l.sourceNode.Title(), l.sourceChannel.Name(),
		l.sinkNode.Title(), l.sinkChannel.Name())
}
