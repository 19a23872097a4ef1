package workflow

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/channel"
)

// MetaNode is a container node representing a nested subgraph with its own
// boundary channels. Its input/output channel lists are exactly the ordered
// projection of its InputNode/OutputNode children's bridge channels.
type MetaNode struct {
	BaseNode
	nodes       []Node
	links       []*Link
	annotations []Annotation
}

// NewMetaNode creates an empty MetaNode with the given title.
func NewMetaNode(title string) *MetaNode {
	m := &MetaNode{BaseNode: newBaseNode(title)}
	m.selfRef.node = m
	return m
}

// Nodes returns the direct child nodes in insertion order.
func (m *MetaNode) Nodes() []Node {
	return append([]Node(nil), m.nodes...)
}

// Links returns the direct links in insertion order.
func (m *MetaNode) Links() []*Link {
	return append([]*Link(nil), m.links...)
}

// Annotations returns the direct annotations in insertion order.
func (m *MetaNode) Annotations() []Annotation {
	return append([]Annotation(nil), m.annotations...)
}

// AllNodes returns all nodes in the nested subgraph, depth first. A nested
// MetaNode precedes its own children.
func (m *MetaNode) AllNodes() []Node {
	var out []Node
	for _, node := range m.nodes {
		out = append(out, node)
		if meta, ok := node.(*MetaNode); ok {
			out = append(out, meta.AllNodes()...)
		}
	}
	return out
}

// AllLinks returns all links in the nested subgraph, this container's own
// links first.
func (m *MetaNode) AllLinks() []*Link {
	out := append([]*Link(nil), m.links...)
	for _, node := range m.nodes {
		if meta, ok := node.(*MetaNode); ok {
			out = append(out, meta.AllLinks()...)
		}
	}
	return out
}

// AllAnnotations returns all annotations in the nested subgraph.
func (m *MetaNode) AllAnnotations() []Annotation {
	out := append([]Annotation(nil), m.annotations...)
	for _, node := range m.nodes {
		if meta, ok := node.(*MetaNode); ok {
			out = append(out, meta.AllAnnotations()...)
		}
	}
	return out
}

// InputNodes returns the InputNode children in order.
func (m *MetaNode) InputNodes() []*InputNode {
	var out []*InputNode
	for _, node := range m.nodes {
		if in, ok := node.(*InputNode); ok {
			out = append(out, in)
		}
	}
	return out
}

// OutputNodes returns the OutputNode children in order.
func (m *MetaNode) OutputNodes() []*OutputNode {
	var out []*OutputNode
	for _, node := range m.nodes {
		if out_, ok := node.(*OutputNode); ok {
			out = append(out, out_)
		}
	}
	return out
}

// NodeForInputChannel returns the InputNode bridging the meta node's input
// channel c.
func (m *MetaNode) NodeForInputChannel(c *channel.Input) (*InputNode, error) {
	for _, in := range m.InputNodes() {
		if in.SinkChannel() == c {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no input node for channel %q: %w", c.Name(), ErrNoSuchChannel)
}

// NodeForOutputChannel returns the OutputNode bridging the meta node's
// output channel c.
func (m *MetaNode) NodeForOutputChannel(c *channel.Output) (*OutputNode, error) {
	for _, out := range m.OutputNodes() {
		if out.SourceChannel() == c {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no output node for channel %q: %w", c.Name(), ErrNoSuchChannel)
}

// CreateInputNode builds an InputNode bridging input, titles it after the
// channel and adds it, growing this meta node's own input channel list.
func (m *MetaNode) CreateInputNode(input *channel.Input) (*InputNode, error) {
	node := NewInputNode(input)
	node.SetTitle(input.Name())
	if err := m.AddNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// CreateOutputNode builds an OutputNode bridging output, titles it after
// the channel and adds it, growing this meta node's own output channel
// list.
func (m *MetaNode) CreateOutputNode(output *channel.Output) (*OutputNode, error) {
	node := NewOutputNode(output)
	node.SetTitle(output.Name())
	if err := m.AddNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// AddNode appends node to this meta node's children.
func (m *MetaNode) AddNode(node Node) error {
	return m.InsertNode(len(m.nodes), node)
}

// InsertNode inserts node at position index. It fails with
// ErrAlreadyInWorkflow when the node already belongs to a container or
// workflow. On success the node's parent/workflow back references are set
// and a NodeAdded event is emitted to the node, this container and the
// workflow.
func (m *MetaNode) InsertNode(index int, node Node) error {
	if node.Workflow() != nil || node.ParentNode() != nil {
		return fmt.Errorf("insert node %q: %w", node.Title(), ErrAlreadyInWorkflow)
	}
	if index < 0 || index > len(m.nodes) {
		return fmt.Errorf("insert node %q: index %d out of range", node.Title(), index)
	}
	m.nodes = append(m.nodes[:index], append([]Node{node}, m.nodes[index:]...)...)
	switch n := node.(type) {
	case *InputNode:
		m.inputs = append(m.inputs, n.SinkChannel())
	case *OutputNode:
		m.outputs = append(m.outputs, n.SourceChannel())
	}
	node.base().setParentNode(m)
	setWorkflowRecursive(node, m.scheme)

	ev := &NodeEvent{kind: NodeAdded, Node: node, Index: index, Parent: m}
	node.base().emit(ev)
	m.emit(ev)
	m.emitWorkflow(ev)
	return nil
}

// RemoveNode removes node from this meta node, cascading: links touching
// the node in this container are removed first; a boundary node's external
// channel and the parent scope links using it are removed as well.
func (m *MetaNode) RemoveNode(node Node) error {
	index := indexOfNode(m.nodes, node)
	if index < 0 {
		return fmt.Errorf("remove node %q: %w", node.Title(), ErrNotInContainer)
	}
	switch n := node.(type) {
	case *InputNode:
		m.removeInputBoundary(n)
	case *OutputNode:
		m.removeOutputBoundary(n)
	}
	m.removeNodeLinks(node)

	index = indexOfNode(m.nodes, node)
	m.nodes = append(m.nodes[:index], m.nodes[index+1:]...)
	node.base().setParentNode(nil)
	setWorkflowRecursive(node, nil)

	ev := &NodeEvent{kind: NodeRemoved, Node: node, Index: index, Parent: m}
	node.base().emit(ev)
	m.emit(ev)
	if m.scheme != nil {
		m.scheme.emit(ev)
	}
	return nil
}

// removeInputBoundary drops the meta node's input channel bridged by in,
// removing any parent scope links targeting it first.
func (m *MetaNode) removeInputBoundary(in *InputNode) {
	chn := in.SinkChannel()
	if parent := m.parent; parent != nil {
		for _, link := range FindLinks(parent.links, LinkFilter{SinkNode: m, SinkChannel: chn}) {
			_ = parent.RemoveLink(link)
		}
	}
	for i, c := range m.inputs {
		if c == chn {
			m.inputs = append(m.inputs[:i], m.inputs[i+1:]...)
			break
		}
	}
}

// removeOutputBoundary drops the meta node's output channel bridged by
// out, removing any parent scope links originating from it first.
func (m *MetaNode) removeOutputBoundary(out *OutputNode) {
	chn := out.SourceChannel()
	if parent := m.parent; parent != nil {
		for _, link := range FindLinks(parent.links, LinkFilter{SourceNode: m, SourceChannel: chn}) {
			_ = parent.RemoveLink(link)
		}
	}
	for i, c := range m.outputs {
		if c == chn {
			m.outputs = append(m.outputs[:i], m.outputs[i+1:]...)
			break
		}
	}
}

func (m *MetaNode) removeNodeLinks(node Node) {
	out := FindLinks(m.links, LinkFilter{SourceNode: node})
	in := FindLinks(m.links, LinkFilter{SinkNode: node})
	for _, link := range append(out, in...) {
		_ = m.RemoveLink(link)
	}
}

// FindLinks returns this container's direct links matching filter.
func (m *MetaNode) FindLinks(filter LinkFilter) []*Link {
	return FindLinks(m.links, filter)
}

// InputLinks returns this container's direct links ending at node.
func (m *MetaNode) InputLinks(node Node) []*Link {
	return m.FindLinks(LinkFilter{SinkNode: node})
}

// OutputLinks returns this container's direct links starting at node.
func (m *MetaNode) OutputLinks(node Node) []*Link {
	return m.FindLinks(LinkFilter{SourceNode: node})
}

// AddLink appends link to this container. Both endpoints must already be
// children of this container.
func (m *MetaNode) AddLink(link *Link) error {
	return m.InsertLink(len(m.links), link)
}

// InsertLink inserts link at position index after validating it with
// CheckConnect under the owning workflow's loop policy (NoLoops when
// detached). A failed validation leaves the container unchanged.
func (m *MetaNode) InsertLink(index int, link *Link) error {
	if link.Workflow() != nil || link.ParentNode() != nil {
		return fmt.Errorf("insert link %s: %w", link, ErrAlreadyInWorkflow)
	}
	if indexOfNode(m.nodes, link.sourceNode) < 0 {
		return fmt.Errorf("insert link %s: source node: %w", link, ErrNotInContainer)
	}
	if indexOfNode(m.nodes, link.sinkNode) < 0 {
		return fmt.Errorf("insert link %s: sink node: %w", link, ErrNotInContainer)
	}
	if index < 0 || index > len(m.links) {
		return fmt.Errorf("insert link %s: index %d out of range", link, index)
	}
	flags := NoLoops
	if m.scheme != nil {
		flags = m.scheme.LoopFlags()
	}
	if err := CheckConnect(m.links, link, flags); err != nil {
		return err
	}
	m.links = append(m.links[:index], append([]*Link{link}, m.links[index:]...)...)
	link.setWorkflow(m.scheme)
	link.setParentNode(m)

	sourceIndex := indexOfLink(m.FindLinks(LinkFilter{SourceNode: link.sourceNode}), link)
	sinkIndex := indexOfLink(m.FindLinks(LinkFilter{SinkNode: link.sinkNode}), link)

	outEv := &LinkEvent{kind: OutputLinkAdded, Link: link, Index: sourceIndex, Parent: m}
	link.sourceNode.base().emit(outEv)
	m.emitWorkflow(outEv)
	inEv := &LinkEvent{kind: InputLinkAdded, Link: link, Index: sinkIndex, Parent: m}
	link.sinkNode.base().emit(inEv)
	m.emitWorkflow(inEv)

	ev := &LinkEvent{kind: LinkAdded, Link: link, Index: index, Parent: m}
	link.emit(ev)
	m.emit(ev)
	m.emitWorkflow(ev)
	return nil
}

// RemoveLink removes link from this container.
func (m *MetaNode) RemoveLink(link *Link) error {
	index := indexOfLink(m.links, link)
	if index < 0 {
		return fmt.Errorf("remove link %s: %w", link, ErrNotInContainer)
	}
	sourceIndex := indexOfLink(m.FindLinks(LinkFilter{SourceNode: link.sourceNode}), link)
	sinkIndex := indexOfLink(m.FindLinks(LinkFilter{SinkNode: link.sinkNode}), link)
	scheme := m.scheme

	m.links = append(m.links[:index], m.links[index+1:]...)
	link.setParentNode(nil)
	link.setWorkflow(nil)

	inEv := &LinkEvent{kind: InputLinkRemoved, Link: link, Index: sinkIndex, Parent: m}
	link.sinkNode.base().emit(inEv)
	if scheme != nil {
		scheme.emit(inEv)
	}
	outEv := &LinkEvent{kind: OutputLinkRemoved, Link: link, Index: sourceIndex, Parent: m}
	link.sourceNode.base().emit(outEv)
	if scheme != nil {
		scheme.emit(outEv)
	}
	ev := &LinkEvent{kind: LinkRemoved, Link: link, Index: index, Parent: m}
	link.emit(ev)
	m.emit(ev)
	if scheme != nil {
		scheme.emit(ev)
	}
	return nil
}

// AddAnnotation appends annotation to this container.
func (m *MetaNode) AddAnnotation(annotation Annotation) error {
	return m.InsertAnnotation(len(m.annotations), annotation)
}

// InsertAnnotation inserts annotation at position index.
func (m *MetaNode) InsertAnnotation(index int, annotation Annotation) error {
	if annotation.Workflow() != nil || annotation.ParentNode() != nil {
		return fmt.Errorf("insert annotation: %w", ErrAlreadyInWorkflow)
	}
	if index < 0 || index > len(m.annotations) {
		return fmt.Errorf("insert annotation: index %d out of range", index)
	}
	m.annotations = append(m.annotations[:index],
		append([]Annotation{annotation}, m.annotations[index:]...)...)
	annotation.annotationBase().setParentNode(m)
	annotation.annotationBase().setWorkflow(m.scheme)

	ev := &AnnotationEvent{kind: AnnotationAdded, Annotation: annotation, Index: index, Parent: m}
	annotation.annotationBase().emit(ev)
	m.emit(ev)
	m.emitWorkflow(ev)
	return nil
}

// RemoveAnnotation removes annotation from this container.
func (m *MetaNode) RemoveAnnotation(annotation Annotation) error {
	index := -1
	for i, a := range m.annotations {
		if a == annotation {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("remove annotation: %w", ErrNotInContainer)
	}
	scheme := m.scheme
	m.annotations = append(m.annotations[:index], m.annotations[index+1:]...)
	annotation.annotationBase().setWorkflow(nil)
	annotation.annotationBase().setParentNode(nil)

	ev := &AnnotationEvent{kind: AnnotationRemoved, Annotation: annotation, Index: index, Parent: m}
	annotation.annotationBase().emit(ev)
	m.emit(ev)
	if scheme != nil {
		scheme.emit(ev)
	}
	return nil
}

// Clear removes all child nodes, links and annotations. Terminal nodes
// (no outgoing links) are removed first so links always disappear before
// the nodes they reference, recursing into nested MetaNodes.
func (m *MetaNode) Clear() {
	isTerminal := func(node Node) bool {
		return len(m.FindLinks(LinkFilter{SourceNode: node})) == 0
	}
	for len(m.nodes) > 0 {
		var terminal []Node
		for _, node := range m.nodes {
			if isTerminal(node) {
				terminal = append(terminal, node)
			}
		}
		for _, node := range terminal {
			if meta, ok := node.(*MetaNode); ok {
				meta.Clear()
			}
			_ = m.RemoveNode(node)
		}
	}
	for _, annotation := range m.Annotations() {
		_ = m.RemoveAnnotation(annotation)
	}
}

func indexOfNode(nodes []Node, node Node) int {
	for i, n := range nodes {
		if n == node {
			return i
		}
	}
	return -1
}

func indexOfLink(links []*Link, link *Link) int {
	for i, l := range links {
		if l == link {
			return i
		}
	}
	return -1
}

func setWorkflowRecursive(node Node, scheme *Scheme) {
	node.base().setWorkflow(scheme)
	if meta, ok := node.(*MetaNode); ok {
		for _, child := range meta.nodes {
			setWorkflowRecursive(child, scheme)
		}
		for _, link := range meta.links {
			link.setWorkflow(scheme)
		}
		for _, annotation := range meta.annotations {
			annotation.annotationBase().setWorkflow(scheme)
		}
	}
}

// InputNode bridges a MetaNode's input channel to its contents: values
// arriving at the parent's boundary input are redispatched from this
// node's output inside the subgraph.
type InputNode struct {
	BaseNode
	sink   *channel.Input
	source *channel.Output
}

// NewInputNode creates the bridge node for the parent meta node's input
// channel. The node's internal output mirrors the input's name, types and
// flags.
func NewInputNode(input *channel.Input) *InputNode {
	output := channel.NewOutput(input.Name(), input.Types(), input.Flags(),
		channel.WithID(input.ID()))
	n := &InputNode{
		BaseNode: newBaseNode(input.Name()),
		sink:     input,
		source:   output,
	}
	n.inputs = []*channel.Input{input}
	n.outputs = []*channel.Output{output}
	n.selfRef.node = n
	return n
}

// SinkChannel returns the parent meta node's input channel.
func (n *InputNode) SinkChannel() *channel.Input { return n.sink }

// SourceChannel returns the node's internal output channel.
func (n *InputNode) SourceChannel() *channel.Output { return n.source }

// OutputNode bridges a MetaNode's output channel to its contents: values
// arriving at this node inside the subgraph are redispatched to the
// parent's boundary output.
type OutputNode struct {
	BaseNode
	sink   *channel.Input
	source *channel.Output
}

// NewOutputNode creates the bridge node for the parent meta node's output
// channel. The node's internal input mirrors the output's name, types and
// flags.
func NewOutputNode(output *channel.Output) *OutputNode {
	input := channel.NewInput(output.Name(), output.Types(), output.Flags(),
		channel.WithID(output.ID()))
	n := &OutputNode{
		BaseNode: newBaseNode(output.Name()),
		sink:     input,
		source:   output,
	}
	n.inputs = []*channel.Input{input}
	n.outputs = []*channel.Output{output}
	n.selfRef.node = n
	return n
}

// SinkChannel returns the node's internal input channel.
func (n *OutputNode) SinkChannel() *channel.Input { return n.sink }

// SourceChannel returns the parent meta node's output channel.
func (n *OutputNode) SourceChannel() *channel.Output { return n.source }

// macroLinkStepIn resolves the effective sink of a link: a link ending at
// a MetaNode's boundary channel continues to the InputNode inside it.
func macroLinkStepIn(link *Link) Node {
	if meta, ok := link.sinkNode.(*MetaNode); ok {
		for _, in := range meta.InputNodes() {
			if in.SinkChannel() == link.sinkChannel {
				return in
			}
		}
	}
	return link.sinkNode
}

// macroLinkShortCircuitBack resolves the effective source of a link: a
// link starting at a MetaNode's boundary channel is traced back to the
// OutputNode inside it.
func macroLinkShortCircuitBack(link *Link) Node {
	if meta, ok := link.sourceNode.(*MetaNode); ok {
		for _, out := range meta.OutputNodes() {
			if out.SourceChannel() == link.sourceChannel {
				return out
			}
		}
	}
	return link.sourceNode
}

// NodeDependents returns the nodes one enabled-link hop downstream of
// node, stepping through MetaNode boundaries: an OutputNode's dependents
// are found in the parent scope through the macro's boundary channel, and
// a link into a MetaNode continues to the bridging InputNode.
func NodeDependents(node Node) []Node {
	parent := node.ParentNode()
	if parent == nil {
		return nil
	}
	var links []*Link
	if out, ok := node.(*OutputNode); ok {
		macro := parent
		if grand := macro.ParentNode(); grand != nil {
			links = grand.FindLinks(LinkFilter{
				SourceNode:    macro,
				SourceChannel: out.SourceChannel(),
			})
		}
	} else {
		links = parent.FindLinks(LinkFilter{SourceNode: node})
	}
	return uniqueNodes(stepLinks(links, macroLinkStepIn))
}

// NodeDependencies returns the nodes one enabled-link hop upstream of
// node, stepping through MetaNode boundaries symmetrically to
// NodeDependents.
func NodeDependencies(node Node) []Node {
	parent := node.ParentNode()
	if parent == nil {
		return nil
	}
	var links []*Link
	if in, ok := node.(*InputNode); ok {
		macro := parent
		if grand := macro.ParentNode(); grand != nil {
			links = grand.FindLinks(LinkFilter{
				SinkNode:    macro,
				SinkChannel: in.SinkChannel(),
			})
		}
	} else {
		links = parent.FindLinks(LinkFilter{SinkNode: node})
	}
	return uniqueNodes(stepLinks(links, macroLinkShortCircuitBack))
}

func stepLinks(links []*Link, step func(*Link) Node) []Node {
	var out []Node
	for _, link := range links {
		if !link.IsEnabled() {
			continue
		}
		out = append(out, step(link))
	}
	return out
}

func uniqueNodes(nodes []Node) []Node {
	seen := make(map[Node]bool, len(nodes))
	var out []Node
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
