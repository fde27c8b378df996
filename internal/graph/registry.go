package graph

import (
	"fmt"
	"sync"

	"github.com/mgraph-tools/graphauth/internal/auth"
)

// Source selects how a Client obtains its lifecycle manager. Exactly one of
// Options or Manager must be set; the discrimination is explicit rather than
// inferred from the value's shape.
type Source struct {
	Options *auth.Options
	Manager *auth.Manager
}

// NewClientFrom builds a Client from a Source, resolving Options against
// the holder's shared configuration when that arm is chosen.
func NewClientFrom(source Source, holder *auth.ConfigHolder) (*Client, error) {
	switch {
	case source.Options != nil && source.Manager != nil:
		return nil, fmt.Errorf("graph: source must set exactly one of Options or Manager, got both")
	case source.Manager != nil:
		return NewClient(source.Manager), nil
	case source.Options != nil:
		return NewClient(auth.NewManager(*source.Options, holder)), nil
	default:
		return nil, fmt.Errorf("graph: source must set exactly one of Options or Manager, got neither")
	}
}

// Registry lazily builds and caches the Client bound to a shared
// configuration holder. When Configure replaces the shared configuration
// the holder's generation moves and the cached Client is rebuilt, so
// dependents never keep serving stale credentials.
type Registry struct {
	mu         sync.Mutex
	holder     *auth.ConfigHolder
	generation uint64
	built      bool
	client     *Client
}

// NewRegistry builds a registry over the given holder; nil selects the
// package-default shared configuration.
func NewRegistry(holder *auth.ConfigHolder) *Registry {
	if holder == nil {
		holder = auth.DefaultConfig
	}
	return &Registry{holder: holder}
}

// Client returns the cached Client, rebuilding it when the shared
// configuration has been replaced since the last call.
func (r *Registry) Client() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	generation := r.holder.Generation()
	if !r.built || generation != r.generation {
		r.client = NewClient(auth.NewManager(auth.Options{}, r.holder))
		r.generation = generation
		r.built = true
	}
	return r.client
}

// DefaultRegistry serves process-wide callers configured via auth.Configure.
var DefaultRegistry = NewRegistry(nil)
