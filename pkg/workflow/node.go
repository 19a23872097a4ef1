package workflow

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/channel"
)

// NodeState is a bitmask of a node's runtime state flags.
type NodeState int

// NoState is the zero state.
const NoState NodeState = 0

const (
	// Running is set while the node is executing a task.
	Running NodeState = 1 << iota

	// Pending is set while the node has queued but undelivered input.
	Pending

	// Invalidated marks the node's outputs as stale; the execution manager
	// must not propagate them to dependent nodes until the flag clears.
	Invalidated

	// NotReady marks a node that cannot currently accept new inputs.
	NotReady
)

// Point is a position in the workflow's 2D layout space.
type Point struct {
	X float64
	Y float64
}

// Severity classifies a UserMessage.
type Severity int

const (
	// SeverityProcessing is a transient progress style message.
	SeverityProcessing Severity = iota
	// SeverityInfo is an informational message.
	SeverityInfo
	// SeverityWarning is a warning message.
	SeverityWarning
	// SeverityError is an error message.
	SeverityError
)

// UserMessage is a keyed message a node wants surfaced to the user.
type UserMessage struct {
	Contents  string
	Severity  Severity
	MessageID string
	Data      map[string]any
}

// Description is the external node-description contract: an ordered list of
// input/output channels plus identifying metadata, supplied by a widget
// registry or similar provider. The workflow model only reads it.
type Description struct {
	Name          string
	ID            string
	QualifiedName string
	Version       string
	Category      string
	Inputs        []*channel.Input
	Outputs       []*channel.Output
}

// Node is a vertex in the workflow graph. Implementations are SchemeNode
// (leaf), MetaNode (container subgraph) and the InputNode/OutputNode
// boundary bridges; the interface is sealed to this package.
type Node interface {
	// ID returns the node's unique identifier.
	ID() uuid.UUID
	// Title returns the node's display title.
	Title() string
	// SetTitle sets the node's display title.
	SetTitle(title string)
	// Position returns the node's layout position.
	Position() Point
	// SetPosition sets the node's layout position.
	SetPosition(pos Point)
	// Progress returns the node's progress in [0, 100], or -1 when unset.
	Progress() float64
	// SetProgress sets the node's progress, clamped to [-1, 100].
	SetProgress(value float64)
	// ToolTip returns the node's tool tip text.
	ToolTip() string
	// SetToolTip sets the node's tool tip text.
	SetToolTip(text string)
	// StatusMessage returns the short status summary for the node.
	StatusMessage() string
	// SetStatusMessage sets the short status summary for the node.
	SetStatusMessage(text string)
	// Properties returns the node's opaque property bag. The workflow model
	// round-trips it without interpreting it.
	Properties() map[string]any

	// InputChannels returns the node's input channels in order.
	InputChannels() []*channel.Input
	// OutputChannels returns the node's output channels in order.
	OutputChannels() []*channel.Output
	// InputChannel returns the input channel matching the given id, falling
	// back to channel names.
	InputChannel(name string) (*channel.Input, error)
	// OutputChannel returns the output channel matching the given id,
	// falling back to channel names.
	OutputChannel(name string) (*channel.Output, error)

	// State returns the node's runtime state flags.
	State() NodeState
	// SetState replaces the node's runtime state flags.
	SetState(state NodeState)
	// SetStateFlags turns the given flags on or off.
	SetStateFlags(flags NodeState, on bool)
	// TestState reports whether all given flags are set.
	TestState(flags NodeState) bool

	// SetStateMessage stores (keyed by MessageID) a message to surface.
	SetStateMessage(message UserMessage)
	// ClearStateMessage removes the message with the given id.
	ClearStateMessage(messageID string)
	// StateMessages returns all current state messages.
	StateMessages() []UserMessage

	// ParentNode returns the containing MetaNode, or nil when detached.
	ParentNode() *MetaNode
	// Workflow returns the owning Scheme, or nil when detached.
	Workflow() *Scheme
	// Subscribe registers an observer for this node's events.
	Subscribe(fn func(Event)) func()

	base() *BaseNode
}

// BaseNode implements the state and behaviour shared by all node kinds.
// Concrete node types embed it.
type BaseNode struct {
	element
	title         string
	position      Point
	progress      float64
	toolTip       string
	statusMessage string
	stateMessages map[string]UserMessage
	state         NodeState
	properties    map[string]any
	inputs        []*channel.Input
	outputs       []*channel.Output
	selfRef       nodeSelf
}

func newBaseNode(title string) BaseNode {
	return BaseNode{
		element:       newElement(),
		title:         title,
		progress:      -1,
		stateMessages: make(map[string]UserMessage),
		properties:    make(map[string]any),
	}
}

func (n *BaseNode) base() *BaseNode { return n }

// Title returns the node's display title.
func (n *BaseNode) Title() string { return n.title }

// SetTitle sets the node's display title.
func (n *BaseNode) SetTitle(title string) { n.title = title }

// Position returns the node's layout position.
func (n *BaseNode) Position() Point { return n.position }

// SetPosition sets the node's layout position.
func (n *BaseNode) SetPosition(pos Point) { n.position = pos }

// Progress returns the node's progress, -1 when unset.
func (n *BaseNode) Progress() float64 { return n.progress }

// SetProgress sets the node's progress, clamped to [-1, 100].
func (n *BaseNode) SetProgress(value float64) {
	if value < -1 {
		value = -1
	}
	if value > 100 {
		value = 100
	}
	n.progress = value
}

// ToolTip returns the node's tool tip text.
func (n *BaseNode) ToolTip() string { return n.toolTip }

// SetToolTip sets the node's tool tip text.
func (n *BaseNode) SetToolTip(text string) { n.toolTip = text }

// StatusMessage returns the short status summary for the node.
func (n *BaseNode) StatusMessage() string { return n.statusMessage }

// SetStatusMessage sets the short status summary for the node.
func (n *BaseNode) SetStatusMessage(text string) { n.statusMessage = text }

// Properties returns the node's opaque property bag.
func (n *BaseNode) Properties() map[string]any { return n.properties }

// InputChannels returns the node's input channels in order.
func (n *BaseNode) InputChannels() []*channel.Input {
	return append([]*channel.Input(nil), n.inputs...)
}

// OutputChannels returns the node's output channels in order.
func (n *BaseNode) OutputChannels() []*channel.Output {
	return append([]*channel.Output(nil), n.outputs...)
}

// InputChannel returns the input channel matching name by id, falling back
// to channel names.
func (n *BaseNode) InputChannel(name string) (*channel.Input, error) {
	for _, c := range n.inputs {
		if c.ID() != "" && c.ID() == name {
			return c, nil
		}
	}
	for _, c := range n.inputs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("input channel %q on node %q: %w", name, n.title, ErrNoSuchChannel)
}

// OutputChannel returns the output channel matching name by id, falling
// back to channel names.
func (n *BaseNode) OutputChannel(name string) (*channel.Output, error) {
	for _, c := range n.outputs {
		if c.ID() != "" && c.ID() == name {
			return c, nil
		}
	}
	for _, c := range n.outputs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("output channel %q on node %q: %w", name, n.title, ErrNoSuchChannel)
}

// State returns the node's runtime state flags.
func (n *BaseNode) State() NodeState { return n.state }

// SetState replaces the node's runtime state flags, notifying the node's
// observers and, when attached, the workflow.
func (n *BaseNode) SetState(state NodeState) {
	if n.state == state {
		return
	}
	n.state = state
	ev := &NodeEvent{kind: NodeStateChanged, Node: n.self(), Index: -1}
	n.emit(ev)
	n.emitWorkflow(ev)
}

// SetStateFlags turns the given flags on or off.
func (n *BaseNode) SetStateFlags(flags NodeState, on bool) {
	if on {
		n.SetState(n.state | flags)
	} else {
		n.SetState(n.state &^ flags)
	}
}

// TestState reports whether all given flags are set.
func (n *BaseNode) TestState(flags NodeState) bool {
	return n.state&flags == flags
}

// SetStateMessage stores message keyed by its MessageID.
func (n *BaseNode) SetStateMessage(message UserMessage) {
	n.stateMessages[message.MessageID] = message
}

// ClearStateMessage removes the message with the given id.
func (n *BaseNode) ClearStateMessage(messageID string) {
	delete(n.stateMessages, messageID)
}

// StateMessages returns all current state messages.
func (n *BaseNode) StateMessages() []UserMessage {
	msgs := make([]UserMessage, 0, len(n.stateMessages))
	for _, m := range n.stateMessages {
		msgs = append(msgs, m)
	}
	return msgs
}

// nodeSelf lets BaseNode events reference the concrete node that embeds it.
// It is set once by the concrete constructors.
type nodeSelf struct {
	node Node
}

func (n *BaseNode) self() Node {
	if n.selfRef.node != nil {
		return n.selfRef.node
	}
	return nil
}

// SchemeNode is a leaf workflow node backed by an externally provided
// description.
type SchemeNode struct {
	BaseNode
	description Description
}

// NewSchemeNode creates a node from description. When title is empty the
// description name is used.
func NewSchemeNode(description Description, title string) *SchemeNode {
	if title == "" {
		title = description.Name
	}
	n := &SchemeNode{
		BaseNode:    newBaseNode(title),
		description: description,
	}
	n.inputs = append([]*channel.Input(nil), description.Inputs...)
	n.outputs = append([]*channel.Output(nil), description.Outputs...)
	n.selfRef.node = n
	return n
}

// Description returns the node description this node was built from.
func (n *SchemeNode) Description() Description { return n.description }

// String implements fmt.Stringer.
func (n *SchemeNode) String() string {
	return fmt.Sprintf("SchemeNode(description=%q, title=%q)", n.description.ID, n.Title())
}
