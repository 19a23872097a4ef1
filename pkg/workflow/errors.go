package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInWorkflow indicates an insert of an element that already
	// belongs to a workflow.
	ErrAlreadyInWorkflow = errors.New("element is already part of a workflow")

	// ErrNotInContainer indicates an operation on an element that is not a
	// member of the target container.
	ErrNotInContainer = errors.New("element is not in the container")

	// ErrNoSuchChannel indicates a channel lookup by an unknown id or name.
	ErrNoSuchChannel = errors.New("no such channel")
)

// CycleError is returned when inserting a link would create a self loop or
// a graph cycle disallowed by the container's loop policy.
type CycleError struct {
	Message string
}

// Error implements the error interface.
func (e *CycleError) Error() string { return e.Message }

// IncompatibleChannelTypeError is returned when a link's source and sink
// channel types fail compatibility classification.
type IncompatibleChannelTypeError struct {
	SourceChannel string
	SinkChannel   string
}

// Error implements the error interface.
func (e *IncompatibleChannelTypeError) Error() string {
	return fmt.Sprintf("cannot connect %q to %q: incompatible channel types",
		e.SourceChannel, e.SinkChannel)
}

// DuplicateLinkError is returned when an identical
// (source, channel) -> (sink, channel) link already exists.
type DuplicateLinkError struct {
	SourceNode    string
	SourceChannel string
	SinkNode      string
	SinkChannel   string
}

// Error implements the error interface.
func (e *DuplicateLinkError) Error() string {
	return fmt.Sprintf("a link from %q (%q) -> %q (%q) already exists",
		e.SourceNode, e.SourceChannel, e.SinkNode, e.SinkChannel)
}

// SinkChannelOccupiedError is returned when the target sink channel is
// flagged single-connection and already has an incoming link.
type SinkChannelOccupiedError struct {
	Channel string
}

// Error implements the error interface.
func (e *SinkChannelOccupiedError) Error() string {
	return fmt.Sprintf("sink channel %q is already connected", e.Channel)
}
