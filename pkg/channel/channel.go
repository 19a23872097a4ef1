// Package channel defines the input/output channel descriptors that nodes
// expose and the named type system used to decide whether two channels can
// be connected. Descriptors are immutable value objects; identity is pointer
// identity, which the workflow model relies on when matching links to
// channels.
package channel

// Flag is a bitmask describing channel behaviour.
type Flag int

const (
	// Single marks an input channel that accepts at most one connection.
	Single Flag = 1 << iota

	// Multiple marks an input channel that accepts multiple connections.
	Multiple

	// Default marks the channel as the preferred one for its node.
	Default

	// NonDefault is the inverse of Default.
	NonDefault

	// Explicit marks a channel that should only be connected when the user
	// asks for it by name, never by automatic link proposals.
	Explicit

	// Dynamic marks an output channel whose declared type is a lower bound;
	// links from it are type checked per-value at delivery time.
	Dynamic
)

// normalizeFlags ensures exactly one of Single/Multiple and one of
// Default/NonDefault is present.
func normalizeFlags(flags Flag) Flag {
	if flags&(Single|Multiple) == 0 {
		flags |= Single
	}
	if flags&(Default|NonDefault) == 0 {
		flags |= NonDefault
	}
	return flags
}

// Option configures optional descriptor attributes.
type Option func(*attrs)

type attrs struct {
	id       string
	doc      string
	replaces []string
}

// WithID sets the channel's stable identifier. When empty the channel is
// addressed by name only.
func WithID(id string) Option {
	return func(a *attrs) { a.id = id }
}

// WithDoc attaches a documentation string to the channel.
func WithDoc(doc string) Option {
	return func(a *attrs) { a.doc = doc }
}

// WithReplaces records legacy identifiers this channel supersedes.
func WithReplaces(names ...string) Option {
	return func(a *attrs) { a.replaces = append([]string(nil), names...) }
}

// Input describes a named, typed input slot on a node.
type Input struct {
	name     string
	id       string
	types    []string
	flags    Flag
	doc      string
	replaces []string
}

// NewInput creates an input channel descriptor. The descriptor is immutable
// once created.
func NewInput(name string, types []string, flags Flag, opts ...Option) *Input {
	var a attrs
	for _, opt := range opts {
		opt(&a)
	}
	return &Input{
		name:     name,
		id:       a.id,
		types:    append([]string(nil), types...),
		flags:    normalizeFlags(flags),
		doc:      a.doc,
		replaces: a.replaces,
	}
}

// Name returns the channel's display name.
func (c *Input) Name() string { return c.name }

// ID returns the channel's stable identifier, or the empty string if the
// channel is addressed by name only.
func (c *Input) ID() string { return c.id }

// Types returns the accepted type names in declaration order.
func (c *Input) Types() []string { return append([]string(nil), c.types...) }

// Flags returns the raw channel flags.
func (c *Input) Flags() Flag { return c.flags }

// Single reports whether the channel accepts at most one connection.
func (c *Input) Single() bool { return c.flags&Single != 0 }

// Multiple reports whether the channel accepts multiple connections.
func (c *Input) Multiple() bool { return c.flags&Multiple != 0 }

// Default reports whether the channel is its node's preferred input.
func (c *Input) Default() bool { return c.flags&Default != 0 }

// Explicit reports whether the channel must be connected explicitly.
func (c *Input) Explicit() bool { return c.flags&Explicit != 0 }

// Doc returns the channel documentation string.
func (c *Input) Doc() string { return c.doc }

// Replaces returns legacy identifiers this channel supersedes.
func (c *Input) Replaces() []string { return append([]string(nil), c.replaces...) }

// Output describes a named, typed output slot on a node.
type Output struct {
	name     string
	id       string
	types    []string
	flags    Flag
	doc      string
	replaces []string
}

// NewOutput creates an output channel descriptor. The descriptor is
// immutable once created.
func NewOutput(name string, types []string, flags Flag, opts ...Option) *Output {
	var a attrs
	for _, opt := range opts {
		opt(&a)
	}
	return &Output{
		name:     name,
		id:       a.id,
		types:    append([]string(nil), types...),
		flags:    normalizeFlags(flags),
		doc:      a.doc,
		replaces: a.replaces,
	}
}

// Name returns the channel's display name.
func (c *Output) Name() string { return c.name }

// ID returns the channel's stable identifier, or the empty string if the
// channel is addressed by name only.
func (c *Output) ID() string { return c.id }

// Types returns the provided type names in declaration order.
func (c *Output) Types() []string { return append([]string(nil), c.types...) }

// Flags returns the raw channel flags.
func (c *Output) Flags() Flag { return c.flags }

// Default reports whether the channel is its node's preferred output.
func (c *Output) Default() bool { return c.flags&Default != 0 }

// Explicit reports whether the channel must be connected explicitly.
func (c *Output) Explicit() bool { return c.flags&Explicit != 0 }

// Dynamic reports whether links from this channel are type checked
// per-value at delivery time.
func (c *Output) Dynamic() bool { return c.flags&Dynamic != 0 }

// Doc returns the channel documentation string.
func (c *Output) Doc() string { return c.doc }

// Replaces returns legacy identifiers this channel supersedes.
func (c *Output) Replaces() []string { return append([]string(nil), c.replaces...) }
