package channel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Type is a named value type participating in channel compatibility checks.
// Parents lists the direct supertypes by name; the subtype relation is the
// reflexive, transitive closure over Parents. Check, when set, tests whether
// a concrete runtime value is an instance of the type. It is consulted for
// dynamic links where the static check has been relaxed.
type Type struct {
	Name    string
	Parents []string
	Check   func(value any) bool
}

// NewType builds a Type whose runtime check is a Go type assertion on T.
func NewType[T any](name string, parents ...string) Type {
	return Type{
		Name:    name,
		Parents: parents,
		Check: func(value any) bool {
			_, ok := value.(T)
			return ok
		},
	}
}

// Registry resolves channel type names to registered Type entries. Names
// that fail to resolve are reported with a non-fatal warning and treated as
// never matching, so a workflow referencing types from an uninstalled
// provider degrades instead of failing.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]Type
	logger *zap.Logger
}

// NewRegistry creates an empty type registry. A nil logger disables the
// resolution warnings.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		types:  make(map[string]Type),
		logger: logger,
	}
}

// Register adds the given types to the registry. Registering a name twice
// is an error.
func (r *Registry) Register(types ...Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if t.Name == "" {
			return fmt.Errorf("cannot register a type with an empty name")
		}
		if _, ok := r.types[t.Name]; ok {
			return fmt.Errorf("type %q is already registered", t.Name)
		}
		r.types[t.Name] = t
	}
	return nil
}

// Resolve returns the registered type for name.
func (r *Registry) Resolve(name string) (Type, bool) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	return t, ok
}

// resolveValid resolves the given names, omitting (with a warning) any that
// are not registered.
func (r *Registry) resolveValid(names []string) []Type {
	resolved := make([]Type, 0, len(names))
	for _, name := range names {
		t, ok := r.Resolve(name)
		if !ok {
			r.logger.Warn("Failed to resolve channel type; excluding it from compatibility checks",
				zap.String("type", name))
			continue
		}
		resolved = append(resolved, t)
	}
	return resolved
}

// IsSubtype reports whether the type named name is a subtype of the type
// named of. The relation is reflexive and follows Parents transitively.
// Unregistered names never match.
func (r *Registry) IsSubtype(name, of string) bool {
	if name == of {
		_, ok := r.Resolve(name)
		return ok
	}
	visited := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		t, ok := r.Resolve(cur)
		if !ok {
			continue
		}
		for _, parent := range t.Parents {
			if parent == of {
				_, ok := r.Resolve(of)
				return ok
			}
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return false
}

// ClassifyConnection classifies the source -> sink connection type check.
//
// strict is true when every resolvable source type is a subtype of some
// resolvable sink type. dynamic is true when the source channel is flagged
// Dynamic and at least one sink type is a subtype of a source type; such a
// connection is structurally allowed but re-checked per-value at delivery.
// If either side resolves to no types at all, both results are false.
func (r *Registry) ClassifyConnection(source *Output, sink *Input) (strict, dynamic bool) {
	sourceTypes := r.resolveValid(source.Types())
	sinkTypes := r.resolveValid(sink.Types())
	if len(sourceTypes) == 0 || len(sinkTypes) == 0 {
		return false, false
	}
	strict = true
	for _, st := range sourceTypes {
		matched := false
		for _, kt := range sinkTypes {
			if r.IsSubtype(st.Name, kt.Name) {
				matched = true
				break
			}
		}
		if !matched {
			strict = false
			break
		}
	}
	if source.Dynamic() {
		for _, kt := range sinkTypes {
			for _, st := range sourceTypes {
				if r.IsSubtype(kt.Name, st.Name) {
					dynamic = true
					break
				}
			}
		}
	}
	return strict, dynamic
}

// CompatibleChannels reports whether source can be connected to sink, under
// either the strict or the dynamic classification.
func (r *Registry) CompatibleChannels(source *Output, sink *Input) bool {
	strict, dynamic := r.ClassifyConnection(source, sink)
	return strict || dynamic
}

// CheckValue reports whether value is an instance of any of the named
// types. A nil value never matches; types without a runtime check or that
// fail to resolve are skipped.
func (r *Registry) CheckValue(value any, typeNames []string) bool {
	if value == nil {
		return false
	}
	for _, t := range r.resolveValid(typeNames) {
		if t.Check != nil && t.Check(value) {
			return true
		}
	}
	return false
}
