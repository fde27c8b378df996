package auth

import (
	"context"
	"sync"
)

// TokenProvider is the extension point for interactive authorization flows.
// It receives a fully formed authorization URL and returns the authorization
// code obtained after the user (or an automation driving a browser) completes
// the flow.
type TokenProvider func(ctx context.Context, authURL string) (string, error)

// Options is the configuration surface accepted by the auth subsystem.
// Every field is optional; which fields are present determines the operating
// mode of the resulting Manager.
type Options struct {
	// AccessToken supplies a bearer token directly. With no refresh token or
	// provider alongside it, the Manager runs in access-token-only mode.
	AccessToken string

	// RefreshToken supplies a long-lived refresh token for expiry-gated renewal.
	RefreshToken string

	// TokenProvider performs the interactive authorization-code exchange.
	TokenProvider TokenProvider

	// ClientID, ClientSecret and TenantID are the OAuth parameters required
	// for any token-endpoint exchange. ClientSecret is never persisted.
	ClientID     string
	ClientSecret string
	TenantID     string

	// Scopes is the ordered list of requested scopes. Once set, a merge from
	// a lower-precedence source never overrides it.
	Scopes []string

	// AllowInsecure disables TLS verification on exchanges and outbound calls.
	AllowInsecure bool

	// ProxyURL routes token-endpoint and outbound traffic through a proxy.
	ProxyURL string

	// AuthDir overrides the platform-default credential storage directory.
	AuthDir string
}

// ConfigHolder carries the process-wide shared Options established by
// Configure. It is an explicit object so tests and embedders can inject
// their own instead of relying on the package-level default.
type ConfigHolder struct {
	mu         sync.RWMutex
	opts       *Options
	generation uint64
}

// NewConfigHolder returns an empty holder.
func NewConfigHolder() *ConfigHolder {
	return &ConfigHolder{}
}

// Replace installs opts as the shared configuration, fully replacing any
// previous value, and advances the generation so cached dependents rebuild.
func (h *ConfigHolder) Replace(opts Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	copied := opts
	h.opts = &copied
	h.generation++
}

// Clear removes the shared configuration and advances the generation.
func (h *ConfigHolder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts = nil
	h.generation++
}

// Snapshot returns a copy of the shared configuration and whether one is set.
func (h *ConfigHolder) Snapshot() (Options, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.opts == nil {
		return Options{}, false
	}
	return *h.opts, true
}

// Generation returns a counter that advances on every Replace or Clear.
func (h *ConfigHolder) Generation() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.generation
}

// DefaultConfig is the holder behind the package-level Configure functions.
var DefaultConfig = NewConfigHolder()

// Configure installs the process-wide shared Options. A second call fully
// replaces the first; service handles built on top are rebuilt lazily.
func Configure(opts Options) {
	DefaultConfig.Replace(opts)
}

// ResetConfigure clears the process-wide shared Options.
func ResetConfigure() {
	DefaultConfig.Clear()
}

// Resolve merges explicit call-site Options over the holder's shared
// Options. Explicit fields win; empty fields fall back to the shared value.
// Nothing is read from the environment here.
func Resolve(explicit Options, holder *ConfigHolder) Options {
	if holder == nil {
		holder = DefaultConfig
	}
	shared, ok := holder.Snapshot()
	if !ok {
		return explicit
	}

	merged := explicit
	if merged.AccessToken == "" {
		merged.AccessToken = shared.AccessToken
	}
	if merged.RefreshToken == "" {
		merged.RefreshToken = shared.RefreshToken
	}
	if merged.TokenProvider == nil {
		merged.TokenProvider = shared.TokenProvider
	}
	if merged.ClientID == "" {
		merged.ClientID = shared.ClientID
	}
	if merged.ClientSecret == "" {
		merged.ClientSecret = shared.ClientSecret
	}
	if merged.TenantID == "" {
		merged.TenantID = shared.TenantID
	}
	if len(merged.Scopes) == 0 {
		merged.Scopes = append([]string(nil), shared.Scopes...)
	}
	if !merged.AllowInsecure {
		merged.AllowInsecure = shared.AllowInsecure
	}
	if merged.ProxyURL == "" {
		merged.ProxyURL = shared.ProxyURL
	}
	if merged.AuthDir == "" {
		merged.AuthDir = shared.AuthDir
	}
	return merged
}
