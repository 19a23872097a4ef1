package workflow

import (
	"github.com/wehubfusion/Daedalus/pkg/channel"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// LoopFlags controls which loops a container accepts.
type LoopFlags int

const (
	// AllowLoops permits graph cycles.
	AllowLoops LoopFlags = 1 << iota
	// AllowSelfLoops permits links from a node to itself.
	AllowSelfLoops
)

// NoLoops forbids all cycles.
const NoLoops LoopFlags = 0

// LinkFilter selects links by endpoint; nil fields match everything.
type LinkFilter struct {
	SourceNode    Node
	SourceChannel *channel.Output
	SinkNode      Node
	SinkChannel   *channel.Input
}

func (f LinkFilter) matches(link *Link) bool {
	if f.SourceNode != nil && link.sourceNode != f.SourceNode {
		return false
	}
	if f.SourceChannel != nil && link.sourceChannel != f.SourceChannel {
		return false
	}
	if f.SinkNode != nil && link.sinkNode != f.SinkNode {
		return false
	}
	if f.SinkChannel != nil && link.sinkChannel != f.SinkChannel {
		return false
	}
	return true
}

// FindLinks returns the links matching filter, preserving order.
func FindLinks(links []*Link, filter LinkFilter) []*Link {
	var result []*Link
	for _, link := range links {
		if filter.matches(link) {
			result = append(result, link)
		}
	}
	return result
}

// CreatesCycle reports whether adding link to existing would introduce a
// cycle. It computes the ancestor set of the link's source node by breadth
// first traversal backward through existing (enabled or not) and tests the
// sink node's membership.
func CreatesCycle(existing []*Link, link *Link) bool {
	expand := func(node Node) []Node {
		var sources []Node
		for _, l := range FindLinks(existing, LinkFilter{SinkNode: node}) {
			sources = append(sources, l.sourceNode)
		}
		return sources
	}
	for ancestor := range graph.TraverseBF(link.sourceNode, expand) {
		if ancestor == link.sinkNode {
			return true
		}
	}
	return false
}

// CheckConnect reports, as an error, the first reason link cannot be added
// alongside existing under the given loop policy. It is the single
// authority consulted by every insertion path. The possible errors are
// *CycleError, *IncompatibleChannelTypeError, *DuplicateLinkError and
// *SinkChannelOccupiedError; nil means the link may be inserted.
func CheckConnect(existing []*Link, link *Link, flags LoopFlags) error {
	if flags&AllowSelfLoops == 0 && link.sourceNode == link.sinkNode {
		return &CycleError{Message: "cannot create a self cycle in the workflow"}
	}
	if flags&AllowLoops == 0 && CreatesCycle(existing, link) {
		return &CycleError{Message: "cannot create cycles in the workflow"}
	}
	if !link.registry.CompatibleChannels(link.sourceChannel, link.sinkChannel) {
		return &IncompatibleChannelTypeError{
			SourceChannel: link.sourceChannel.Name(),
			SinkChannel:   link.sinkChannel.Name(),
		}
	}
	duplicates := FindLinks(existing, LinkFilter{
		SourceNode:    link.sourceNode,
		SourceChannel: link.sourceChannel,
		SinkNode:      link.sinkNode,
		SinkChannel:   link.sinkChannel,
	})
	if len(duplicates) > 0 {
		return &DuplicateLinkError{
			SourceNode:    link.sourceNode.Title(),
			SourceChannel: link.sourceChannel.Name(),
			SinkNode:      link.sinkNode.Title(),
			SinkChannel:   link.sinkChannel.Name(),
		}
	}
	if link.sinkChannel.Single() {
		occupied := FindLinks(existing, LinkFilter{
			SinkNode:    link.sinkNode,
			SinkChannel: link.sinkChannel,
		})
		if len(occupied) > 0 {
			return &SinkChannelOccupiedError{Channel: link.sinkChannel.Name()}
		}
	}
	return nil
}

// ChannelPair is a connectable (output, input) channel combination.
type ChannelPair struct {
	Source *channel.Output
	Sink   *channel.Input
}

// PossibleLinks enumerates the channel pairs that could connect sourceNode
// to sinkNode under registry.
func PossibleLinks(registry *channel.Registry, sourceNode, sinkNode Node) []ChannelPair {
	var pairs []ChannelPair
	for _, source := range sourceNode.OutputChannels() {
		for _, sink := range sinkNode.InputChannels() {
			if registry.CompatibleChannels(source, sink) {
				pairs = append(pairs, ChannelPair{Source: source, Sink: sink})
			}
		}
	}
	return pairs
}

// CanConnectNodes reports whether any output of sourceNode can be
// connected to any input of sinkNode.
func CanConnectNodes(registry *channel.Registry, sourceNode, sinkNode Node) bool {
	return len(PossibleLinks(registry, sourceNode, sinkNode)) > 0
}
