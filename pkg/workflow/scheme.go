package workflow

import (
	"reflect"
	"slices"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/channel"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Scheme is a complete workflow: a root MetaNode holding the node/link/
// annotation hierarchy, a channel type registry, a loop policy and a
// runtime environment. All structural mutations go through the Scheme (or
// a MetaNode reached from it) and notify the Scheme's observers
// synchronously, so a single subscription sees every change anywhere in
// the hierarchy.
type Scheme struct {
	observers

	title       string
	description string
	root        *MetaNode
	loopFlags   LoopFlags
	env         map[string]any
	registry    *channel.Registry
	logger      *zap.Logger
}

// SchemeOption configures a Scheme at construction.
type SchemeOption func(*Scheme)

// WithTitle sets the workflow title.
func WithTitle(title string) SchemeOption {
	return func(s *Scheme) { s.title = title }
}

// WithDescription sets the workflow description.
func WithDescription(description string) SchemeOption {
	return func(s *Scheme) { s.description = description }
}

// WithLoopFlags sets the workflow's loop policy. The default is NoLoops.
func WithLoopFlags(flags LoopFlags) SchemeOption {
	return func(s *Scheme) { s.loopFlags = flags }
}

// WithRegistry sets the channel type registry links validate against.
func WithRegistry(registry *channel.Registry) SchemeOption {
	return func(s *Scheme) { s.registry = registry }
}

// WithLogger sets the logger used for workflow mutations.
func WithLogger(logger *zap.Logger) SchemeOption {
	return func(s *Scheme) { s.logger = logger }
}

// NewScheme creates an empty workflow.
func NewScheme(opts ...SchemeOption) *Scheme {
	s := &Scheme{
		env:  make(map[string]any),
		root: NewMetaNode("root"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = channel.NewRegistry(s.logger)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.root.base().setWorkflow(s)
	return s
}

// Title returns the workflow title.
func (s *Scheme) Title() string { return s.title }

// SetTitle sets the workflow title.
func (s *Scheme) SetTitle(title string) { s.title = title }

// Description returns the workflow description.
func (s *Scheme) Description() string { return s.description }

// SetDescription sets the workflow description.
func (s *Scheme) SetDescription(description string) { s.description = description }

// Root returns the root MetaNode. The root itself is never part of the
// node set returned by Nodes.
func (s *Scheme) Root() *MetaNode { return s.root }

// Registry returns the channel type registry.
func (s *Scheme) Registry() *channel.Registry { return s.registry }

// LoopFlags returns the workflow's loop policy.
func (s *Scheme) LoopFlags() LoopFlags { return s.loopFlags }

// resolveParent maps a nil parent to the root container.
func (s *Scheme) resolveParent(parent *MetaNode) *MetaNode {
	if parent == nil {
		return s.root
	}
	return parent
}

// AddNode appends node to parent (nil parent means the root).
func (s *Scheme) AddNode(node Node, parent *MetaNode) error {
	container := s.resolveParent(parent)
	if err := container.AddNode(node); err != nil {
		return err
	}
	s.logger.Debug("node added",
		zap.String("node", node.Title()),
		zap.String("id", node.ID().String()))
	return nil
}

// InsertNode inserts node at index into parent (nil parent means the
// root).
func (s *Scheme) InsertNode(index int, node Node, parent *MetaNode) error {
	return s.resolveParent(parent).InsertNode(index, node)
}

// RemoveNode removes node from parent (nil parent means the root),
// cascading link removal.
func (s *Scheme) RemoveNode(node Node, parent *MetaNode) error {
	container := s.resolveParent(parent)
	if err := container.RemoveNode(node); err != nil {
		return err
	}
	s.logger.Debug("node removed",
		zap.String("node", node.Title()),
		zap.String("id", node.ID().String()))
	return nil
}

// AddLink adds link to parent (nil parent means the root) after
// validation.
func (s *Scheme) AddLink(link *Link, parent *MetaNode) error {
	container := s.resolveParent(parent)
	if err := container.AddLink(link); err != nil {
		return err
	}
	s.logger.Debug("link added", zap.Stringer("link", link))
	return nil
}

// NewLink constructs a link between the named channels of source and sink
// and adds it to parent (nil parent means the root).
func (s *Scheme) NewLink(source Node, sourceChannel string, sink Node, sinkChannel string, parent *MetaNode) (*Link, error) {
	link, err := NewLinkByName(s.registry, source, sourceChannel, sink, sinkChannel)
	if err != nil {
		return nil, err
	}
	if err := s.AddLink(link, parent); err != nil {
		return nil, err
	}
	return link, nil
}

// RemoveLink removes link from parent (nil parent means the root).
func (s *Scheme) RemoveLink(link *Link, parent *MetaNode) error {
	container := s.resolveParent(parent)
	if err := container.RemoveLink(link); err != nil {
		return err
	}
	s.logger.Debug("link removed", zap.Stringer("link", link))
	return nil
}

// AddAnnotation adds annotation to parent (nil parent means the root).
func (s *Scheme) AddAnnotation(annotation Annotation, parent *MetaNode) error {
	return s.resolveParent(parent).AddAnnotation(annotation)
}

// RemoveAnnotation removes annotation from parent (nil parent means the
// root).
func (s *Scheme) RemoveAnnotation(annotation Annotation, parent *MetaNode) error {
	return s.resolveParent(parent).RemoveAnnotation(annotation)
}

// Nodes returns every node in the workflow, all nesting levels included.
func (s *Scheme) Nodes() []Node { return s.root.AllNodes() }

// Links returns every link in the workflow, all nesting levels included.
func (s *Scheme) Links() []*Link { return s.root.AllLinks() }

// Annotations returns every annotation in the workflow.
func (s *Scheme) Annotations() []Annotation { return s.root.AllAnnotations() }

// FindLinks returns all links in the workflow matching filter.
func (s *Scheme) FindLinks(filter LinkFilter) []*Link {
	return FindLinks(s.root.AllLinks(), filter)
}

// InputLinks returns all links ending at node, anywhere in the workflow.
func (s *Scheme) InputLinks(node Node) []*Link {
	return s.FindLinks(LinkFilter{SinkNode: node})
}

// OutputLinks returns all links starting at node, anywhere in the
// workflow.
func (s *Scheme) OutputLinks(node Node) []*Link {
	return s.FindLinks(LinkFilter{SourceNode: node})
}

// Parents returns the nodes immediately upstream of node over enabled
// links, stepping through MetaNode boundaries.
func (s *Scheme) Parents(node Node) []Node { return NodeDependencies(node) }

// Children returns the nodes immediately downstream of node over enabled
// links, stepping through MetaNode boundaries.
func (s *Scheme) Children(node Node) []Node { return NodeDependents(node) }

// UpstreamNodes returns every node reachable from start by walking
// enabled links against their direction. start itself is excluded.
func (s *Scheme) UpstreamNodes(start Node) []Node {
	return traverseFrom(start, NodeDependencies)
}

// DownstreamNodes returns every node reachable from start by walking
// enabled links along their direction. start itself is excluded.
func (s *Scheme) DownstreamNodes(start Node) []Node {
	return traverseFrom(start, NodeDependents)
}

func traverseFrom(start Node, expand func(Node) []Node) []Node {
	var out []Node
	for node := range graph.TraverseBF(start, expand) {
		if node != start {
			out = append(out, node)
		}
	}
	return out
}

// IsAncestor reports whether node transitively feeds into child over
// enabled links.
func (s *Scheme) IsAncestor(node, child Node) bool {
	return slices.Contains(s.UpstreamNodes(child), node)
}

// CreatesCycle reports whether connecting source to sink would close a
// directed cycle, considering every link in the workflow regardless of
// enabled state.
func (s *Scheme) CreatesCycle(source, sink Node) bool {
	links := s.root.AllLinks()
	expand := func(node Node) []Node {
		var sources []Node
		for _, l := range FindLinks(links, LinkFilter{SinkNode: node}) {
			sources = append(sources, l.sourceNode)
		}
		return sources
	}
	for ancestor := range graph.TraverseBF(source, expand) {
		if ancestor == sink {
			return true
		}
	}
	return false
}

// CheckConnect validates link for insertion into parent (nil parent means
// the root) under the workflow's loop policy, without inserting it.
func (s *Scheme) CheckConnect(link *Link, parent *MetaNode) error {
	container := s.resolveParent(parent)
	return CheckConnect(container.links, link, s.loopFlags)
}

// CanConnect reports whether any channel pairing admits a link from
// source to sink.
func (s *Scheme) CanConnect(source, sink Node) bool {
	return CanConnectNodes(s.registry, source, sink)
}

// PossibleLinks returns all channel pairings that admit a link from
// source to sink.
func (s *Scheme) PossibleLinks(source, sink Node) []ChannelPair {
	return PossibleLinks(s.registry, source, sink)
}

// SetRuntimeEnv sets a runtime environment entry, notifying observers
// when the value changes.
func (s *Scheme) SetRuntimeEnv(key string, value any) {
	old, ok := s.env[key]
	if ok && runtimeEnvEqual(old, value) {
		return
	}
	s.env[key] = value
	s.emit(&EnvChangedEvent{Key: key, Value: value, OldValue: old})
}

// runtimeEnvEqual reports whether two environment values are known equal.
// Values of non-comparable dynamic types (maps, slices, funcs) are never
// treated as equal, so setting them always emits a change event.
func runtimeEnvEqual(a, b any) bool {
	t := reflect.TypeOf(b)
	if t == nil {
		return a == nil
	}
	if !t.Comparable() {
		return false
	}
	if ta := reflect.TypeOf(a); ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

// GetRuntimeEnv returns the runtime environment entry for key.
func (s *Scheme) GetRuntimeEnv(key string) (any, bool) {
	v, ok := s.env[key]
	return v, ok
}

// RuntimeEnv returns a copy of the runtime environment.
func (s *Scheme) RuntimeEnv() map[string]any {
	out := make(map[string]any, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}

// Clear removes everything from the workflow, terminal nodes first so no
// link ever outlives its endpoints.
func (s *Scheme) Clear() {
	s.root.Clear()
	s.logger.Debug("workflow cleared", zap.String("title", s.title))
}
