package execution

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/channel"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// SignalKind classifies a scheduled delivery.
type SignalKind int

const (
	// New marks the first value delivered on a link.
	New SignalKind = iota
	// Update marks a value replacing a previous one on a link.
	Update
	// Close marks the terminal delivery on a link being torn down; its
	// value is always nil.
	Close
)

// String returns the kind's name.
func (k SignalKind) String() string {
	switch k {
	case New:
		return "New"
	case Update:
		return "Update"
	case Close:
		return "Close"
	default:
		return fmt.Sprintf("SignalKind(%d)", int(k))
	}
}

// Signal is a single pending value delivery over a link. Index is the
// link's position among the sink node's input links at scheduling time,
// used by multi-input sinks to disambiguate sources.
type Signal struct {
	Kind  SignalKind
	Link  *workflow.Link
	Value any
	ID    any
	Index int
}

// Channel returns the sink channel the signal is delivered to.
func (s Signal) Channel() *channel.Input { return s.Link.SinkChannel() }

func (s Signal) String() string {
	return fmt.Sprintf("Signal(%s, %s, id=%v, index=%d)", s.Kind, s.Link, s.ID, s.Index)
}

// Delegate performs the actual per-node computation: the manager hands it
// a node together with its compressed input signals and considers the node
// updated when the call returns. Errors are propagated uncaught to the
// ProcessNode caller; the manager's bookkeeping is restored regardless.
type Delegate interface {
	SendToNode(ctx context.Context, node workflow.Node, signals []Signal) error
}

// Blocker is an optional Delegate refinement. A blocking node neither
// receives new inputs nor lets its dependents update until it unblocks.
// Without it no node is considered blocking.
type Blocker interface {
	IsBlocking(node workflow.Node) bool
}

// Readier is an optional Delegate refinement deciding whether a node can
// receive inputs right now. Without it a node is ready unless its NotReady
// state flag is set.
type Readier interface {
	IsReady(node workflow.Node) bool
}

// Settings supplies the persisted concurrency limit consulted when neither
// an explicit override nor the MAX_ACTIVE_NODES environment variable is
// set.
type Settings interface {
	MaxActiveNodes() (int, bool)
}

// State is the manager's lifecycle state.
type State int32

const (
	// Running means scheduling passes are performed.
	Running State = iota
	// Stopped means no further scheduling passes occur.
	Stopped
	// Paused means deliveries are tracked but not performed.
	Paused
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Paused:
		return "Paused"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// RuntimeState distinguishes an idle manager from one mid-delivery.
type RuntimeState int32

const (
	// Waiting means no delivery is in flight.
	Waiting RuntimeState = iota
	// Processing is held for the duration of a single node's input
	// delivery; re-entry is forbidden while it is set.
	Processing
)

// String returns the runtime state's name.
func (s RuntimeState) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Processing:
		return "Processing"
	default:
		return fmt.Sprintf("RuntimeState(%d)", int32(s))
	}
}
