package workflow

import "sync"

// EventKind identifies the type of a structural workflow event.
type EventKind int

const (
	// NodeAdded is emitted after a node is inserted into a container.
	NodeAdded EventKind = iota
	// NodeRemoved is emitted after a node is removed from a container.
	NodeRemoved
	// NodeStateChanged is emitted when a node's runtime state flags change.
	NodeStateChanged
	// LinkAdded is emitted after a link is inserted into a container.
	LinkAdded
	// LinkRemoved is emitted after a link is removed from a container.
	LinkRemoved
	// InputLinkAdded is delivered to a link's sink node on insertion.
	InputLinkAdded
	// InputLinkRemoved is delivered to a link's sink node on removal.
	InputLinkRemoved
	// OutputLinkAdded is delivered to a link's source node on insertion.
	OutputLinkAdded
	// OutputLinkRemoved is delivered to a link's source node on removal.
	OutputLinkRemoved
	// LinkStateChanged is emitted when a link's runtime state flags change.
	LinkStateChanged
	// InputLinkStateChanged is delivered to the sink node on a link runtime
	// state change.
	InputLinkStateChanged
	// OutputLinkStateChanged is delivered to the source node on a link
	// runtime state change.
	OutputLinkStateChanged
	// LinkEnabledChanged is emitted when a link is enabled or disabled.
	LinkEnabledChanged
	// AnnotationAdded is emitted after an annotation is inserted.
	AnnotationAdded
	// AnnotationRemoved is emitted after an annotation is removed.
	AnnotationRemoved
	// EnvChanged is emitted when a workflow runtime environment entry
	// changes.
	EnvChanged
)

// Event is a structural notification emitted by workflow mutations.
// Delivery is synchronous and ordered: the affected element's observers
// first, then the containing MetaNode's, then the workflow's.
type Event interface {
	Kind() EventKind
}

// NodeEvent notifies observers of a node level change.
type NodeEvent struct {
	kind EventKind
	// Node is the affected node.
	Node Node
	// Index is the node's position in its container at the time of the
	// event, or -1 when not applicable.
	Index int
	// Parent is the container the mutation applied to, nil for a detached
	// state change.
	Parent *MetaNode
}

// Kind implements Event.
func (e *NodeEvent) Kind() EventKind { return e.kind }

// LinkEvent notifies observers of a link level change.
type LinkEvent struct {
	kind EventKind
	// Link is the affected link.
	Link *Link
	// Index is, depending on the kind, the link's position in its container
	// or its position among the sink/source node's input/output links at
	// the time of the event; -1 when not applicable.
	Index int
	// Parent is the container the mutation applied to.
	Parent *MetaNode
}

// Kind implements Event.
func (e *LinkEvent) Kind() EventKind { return e.kind }

// AnnotationEvent notifies observers of an annotation change.
type AnnotationEvent struct {
	kind EventKind
	// Annotation is the affected annotation.
	Annotation Annotation
	// Index is the annotation's position in its container.
	Index int
	// Parent is the container the mutation applied to.
	Parent *MetaNode
}

// Kind implements Event.
func (e *AnnotationEvent) Kind() EventKind { return e.kind }

// EnvChangedEvent notifies observers of a runtime environment change.
type EnvChangedEvent struct {
	Key      string
	Value    any
	OldValue any
}

// Kind implements Event.
func (e *EnvChangedEvent) Kind() EventKind { return EnvChanged }

type subscription struct {
	id int
	fn func(Event)
}

// observers is an ordered, synchronous observer registry embedded by the
// workflow elements and the Scheme.
type observers struct {
	mu   sync.Mutex
	next int
	subs []subscription
}

// Subscribe registers fn to be called synchronously for every event emitted
// by this element. The returned func cancels the subscription.
func (o *observers) Subscribe(fn func(Event)) func() {
	o.mu.Lock()
	id := o.next
	o.next++
	o.subs = append(o.subs, subscription{id: id, fn: fn})
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

func (o *observers) emit(ev Event) {
	o.mu.Lock()
	snapshot := make([]subscription, len(o.subs))
	copy(snapshot, o.subs)
	o.mu.Unlock()
	for _, s := range snapshot {
		s.fn(ev)
	}
}
