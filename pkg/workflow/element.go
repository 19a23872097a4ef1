package workflow

import "github.com/google/uuid"

// element carries the state shared by every workflow element: a stable
// identifier for external correlation and the parent/workflow back
// references. The back references are mutated exclusively by the container
// code paths (MetaNode insert/remove); elements never set them themselves.
type element struct {
	observers
	id     uuid.UUID
	parent *MetaNode
	scheme *Scheme
}

func newElement() element {
	return element{id: uuid.New()}
}

// ID returns the element's unique identifier, assigned at construction.
func (e *element) ID() uuid.UUID { return e.id }

// ParentNode returns the containing MetaNode, or nil when detached.
func (e *element) ParentNode() *MetaNode { return e.parent }

// Workflow returns the owning Scheme, or nil when detached.
func (e *element) Workflow() *Scheme { return e.scheme }

func (e *element) setParentNode(parent *MetaNode) { e.parent = parent }

func (e *element) setWorkflow(scheme *Scheme) { e.scheme = scheme }

// emitWorkflow mirrors ev to the owning workflow's observers, if attached.
func (e *element) emitWorkflow(ev Event) {
	if e.scheme != nil {
		e.scheme.emit(ev)
	}
}
