// Package auth implements the credential and token lifecycle for the
// Microsoft identity platform: acquisition priority across supplied tokens,
// persisted credentials and interactive providers, expiry-gated renewal,
// deduplication of concurrent acquisition work, and the recovery protocol
// driven by rejected bearer tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"

	"github.com/mgraph-tools/graphauth/internal/util"
)

// DefaultScopes is the scope list requested when none is configured.
var DefaultScopes = []string{"offline_access", "https://graph.microsoft.com/.default"}

// Credential is the in-memory credential state owned by a Manager. The
// client secret lives only here; it is never part of a persisted record.
type Credential struct {
	AccessToken     string
	RefreshToken    string
	ExpiresAt       time.Time
	ClientID        string
	ClientSecret    string
	TenantID        string
	Scopes          []string
	AccessTokenOnly bool
	AllowInsecure   bool
}

// Manager drives the token lifecycle for one resolved identity. Its single
// externally meaningful operation is Token; everything else exists to keep
// that operation correct under concurrency and recoverable after rejection.
type Manager struct {
	mu   sync.Mutex
	cred Credential

	provider   TokenProvider
	store      *Store
	httpClient *http.Client
	endpoint   oauth2.Endpoint

	// group deduplicates in-flight acquisition and refresh work so N
	// concurrent callers trigger exactly one underlying operation.
	group singleflight.Group

	retryMu  sync.Mutex
	retrying bool
}

// NewManager builds a Manager from explicit options merged over the holder's
// shared configuration. A nil holder selects the package default. The
// operating mode is fixed here: an access token with no renewal material
// yields access-token-only mode for the lifetime of the instance.
func NewManager(opts Options, holder *ConfigHolder) *Manager {
	resolved := Resolve(opts, holder)

	scopes := resolved.Scopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), DefaultScopes...)
	}

	accessTokenOnly := resolved.AccessToken != "" &&
		resolved.RefreshToken == "" &&
		resolved.TokenProvider == nil

	return &Manager{
		cred: Credential{
			AccessToken:     resolved.AccessToken,
			RefreshToken:    resolved.RefreshToken,
			ClientID:        resolved.ClientID,
			ClientSecret:    resolved.ClientSecret,
			TenantID:        resolved.TenantID,
			Scopes:          scopes,
			AccessTokenOnly: accessTokenOnly,
			AllowInsecure:   resolved.AllowInsecure,
		},
		provider:   resolved.TokenProvider,
		store:      NewStore(resolved.AuthDir),
		httpClient: util.NewHTTPClient(resolved.ProxyURL, resolved.AllowInsecure),
		endpoint:   microsoft.AzureADEndpoint(resolved.TenantID),
	}
}

// Store exposes the credential store backing this manager.
func (m *Manager) Store() *Store {
	return m.store
}

// HTTPClient exposes the proxy/TLS-configured client for outbound calls.
func (m *Manager) HTTPClient() *http.Client {
	return m.httpClient
}

// AccessTokenOnly reports whether this manager holds no renewal material.
func (m *Manager) AccessTokenOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.AccessTokenOnly
}

// SetEndpoint overrides the identity-platform endpoints, for sovereign
// clouds and for tests that point the manager at a mock server.
func (m *Manager) SetEndpoint(authURL, tokenURL string) {
	m.endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
}

// Token returns a currently valid access token, acquiring or renewing
// credentials as needed. In access-token-only mode the held token is
// returned unconditionally; expiry is never probed.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.cred.AccessTokenOnly {
		token := m.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	missing := m.missingParams()
	m.mu.Unlock()

	if len(missing) > 0 {
		return "", &ConfigError{Missing: missing}
	}

	if err := m.ensureRefreshToken(ctx); err != nil {
		return "", err
	}
	if err := m.ensureFresh(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.AccessToken, nil
}

// missingParams must be called with m.mu held.
func (m *Manager) missingParams() []string {
	var missing []string
	if m.cred.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if m.cred.ClientSecret == "" {
		missing = append(missing, "clientSecret")
	}
	if m.cred.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	return missing
}

// ensureRefreshToken makes a refresh token available, consulting in order:
// memory, the credential store, and finally the interactive provider.
// Concurrent callers share one in-flight acquisition; every caller re-checks
// state once the winner settles.
func (m *Manager) ensureRefreshToken(ctx context.Context) error {
	m.mu.Lock()
	held := m.cred.RefreshToken != ""
	m.mu.Unlock()
	if held {
		return nil
	}

	_, err, _ := m.group.Do("acquire", func() (interface{}, error) {
		m.mu.Lock()
		if m.cred.RefreshToken != "" {
			m.mu.Unlock()
			return nil, nil
		}
		tenantID, clientID := m.cred.TenantID, m.cred.ClientID
		m.mu.Unlock()

		// Storage is always consulted before the provider so a previously
		// obtained renewable token never forces a redundant interactive
		// exchange.
		if record, ok := m.store.Load(tenantID, clientID); ok && record.RefreshToken != "" {
			m.adoptRecord(record)
			return nil, nil
		}

		if m.provider != nil {
			return nil, m.forge(ctx)
		}
		return nil, &NoCredentialError{StorePath: m.store.FilePath(tenantID, clientID)}
	})
	return err
}

// ensureFresh renews the access token when it is absent, past its expiry,
// or carries no known expiry at all. The refresh exchange itself is guarded
// the same way acquisition is, so concurrent observers of an expired token
// trigger exactly one exchange.
func (m *Manager) ensureFresh(ctx context.Context) error {
	if m.tokenValid() {
		return nil
	}

	_, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		if m.tokenValid() {
			return nil, nil
		}
		m.mu.Lock()
		held := m.cred.RefreshToken != ""
		m.mu.Unlock()
		if !held {
			return nil, nil
		}
		return nil, m.refresh(ctx)
	})
	return err
}

func (m *Manager) tokenValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.AccessToken != "" &&
		!m.cred.ExpiresAt.IsZero() &&
		time.Now().Before(m.cred.ExpiresAt)
}

// refresh performs the refresh_token grant and updates state. The server's
// rejection detail is logged here and deliberately not carried in the
// returned error.
func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.cred.RefreshToken
	m.mu.Unlock()

	result, err := m.refreshGrant(ctx, refreshToken)
	if err != nil {
		log.Warnf("refresh token exchange rejected: %v", err)
		return &RenewalError{cause: err}
	}

	m.adoptResult(result)
	m.persist()
	return nil
}

// forge runs the interactive authorization-code exchange: build the
// authorization URL, hand it to the provider, and trade the returned code
// for tokens. Provider failures propagate with their original detail.
func (m *Manager) forge(ctx context.Context) error {
	if m.provider == nil {
		return ErrProviderNotConfigured
	}

	authURL := m.authorizationURL(uuid.NewString())
	code, err := m.provider(ctx, authURL)
	if err != nil {
		return fmt.Errorf("token provider failed: %w", err)
	}

	result, err := m.exchangeCode(ctx, code)
	if err != nil {
		return err
	}

	m.adoptResult(result)
	m.persist()
	return nil
}

// Invalidate clears the current access token and its expiry, forcing the
// next Token call through the renewal path.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.AccessToken = ""
	m.cred.ExpiresAt = time.Time{}
}

// Recover runs the one-shot recovery sequence after an outbound call was
// rejected with 401: invalidate, retry the refresh grant if renewal material
// is held, and fall back to the provider exchange. In access-token-only mode
// there is nothing to renew and the specific remediation error is returned.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	accessOnly := m.cred.AccessTokenOnly
	refreshToken := m.cred.RefreshToken
	m.mu.Unlock()

	if accessOnly {
		return ErrAccessTokenRejected
	}

	m.Invalidate()

	if refreshToken != "" {
		err := m.refresh(ctx)
		if err == nil {
			return nil
		}
		log.Warnf("refresh during recovery failed, falling back to provider: %v", err)
	}

	if m.provider != nil {
		if err := m.forge(ctx); err != nil {
			return NewAuthenticationError(ErrRecoveryFailed, err)
		}
		return nil
	}

	return ErrRecoveryFailed
}

// BeginRetry claims the single recovery retry slot for this manager.
// It returns false when a retry is already in progress.
func (m *Manager) BeginRetry() bool {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	if m.retrying {
		return false
	}
	m.retrying = true
	return true
}

// EndRetry releases the recovery retry slot.
func (m *Manager) EndRetry() {
	m.retryMu.Lock()
	m.retrying = false
	m.retryMu.Unlock()
}

// adoptRecord installs a stored record as the current credential state.
func (m *Manager) adoptRecord(record *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.AccessToken = record.AccessToken
	m.cred.RefreshToken = record.RefreshToken
	m.cred.ExpiresAt = time.Time{}
	if record.Expire != "" {
		if expiresAt, err := time.Parse(time.RFC3339, record.Expire); err == nil {
			m.cred.ExpiresAt = expiresAt
		}
	}
	log.Debugf("adopted stored credentials from %s", m.store.FilePath(m.cred.TenantID, m.cred.ClientID))
}

// adoptResult installs a token-exchange result, rotating the refresh token
// when the server issued a new one.
func (m *Manager) adoptResult(result *tokenResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.AccessToken = result.AccessToken
	if result.RefreshToken != "" {
		m.cred.RefreshToken = result.RefreshToken
	}
	m.cred.ExpiresAt = result.Expire
}

// persist writes the current renewable state to the store. Persistence is
// best-effort: failures are logged and never surfaced to the token path.
// Nothing is written in access-token-only mode since there is nothing
// renewable to keep.
func (m *Manager) persist() {
	m.mu.Lock()
	if m.cred.AccessTokenOnly || m.cred.RefreshToken == "" {
		m.mu.Unlock()
		return
	}
	record := &Record{
		AccessToken:  m.cred.AccessToken,
		RefreshToken: m.cred.RefreshToken,
		ClientID:     m.cred.ClientID,
		TenantID:     m.cred.TenantID,
		LastRefresh:  time.Now().Format(time.RFC3339),
	}
	if !m.cred.ExpiresAt.IsZero() {
		record.Expire = m.cred.ExpiresAt.Format(time.RFC3339)
	}
	m.mu.Unlock()

	if err := m.store.Save(record); err != nil {
		log.Warnf("failed to persist credentials: %v", err)
	}
}
