package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager builds a manager against a mock identity endpoint.
func newTestManager(t *testing.T, opts Options, handler http.Handler) *Manager {
	t.Helper()
	if opts.AuthDir == "" {
		opts.AuthDir = t.TempDir()
	}
	manager := NewManager(opts, NewConfigHolder())
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		manager.SetEndpoint(server.URL+"/authorize", server.URL+"/token")
	}
	return manager
}

func oauthParams() Options {
	return Options{ClientID: "c1", ClientSecret: "s1", TenantID: "t1"}
}

func writeTokenJSON(w http.ResponseWriter, accessToken, refreshToken string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	refreshField := ""
	if refreshToken != "" {
		refreshField = fmt.Sprintf(`"refresh_token":%q,`, refreshToken)
	}
	expiresField := ""
	if expiresIn > 0 {
		expiresField = fmt.Sprintf(`"expires_in":%d,`, expiresIn)
	}
	_, _ = fmt.Fprintf(w, `{"access_token":%q,%s%s"token_type":"Bearer"}`, accessToken, refreshField, expiresField)
}

func TestTokenAccessTokenOnly(t *testing.T) {
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeTokenJSON(w, "should-not-happen", "", 3600)
	})

	manager := newTestManager(t, Options{AccessToken: "direct-token"}, handler)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "direct-token", token)

	// An arbitrarily old expiry must not trigger renewal either.
	manager.mu.Lock()
	manager.cred.ExpiresAt = time.Now().Add(-24 * time.Hour)
	manager.mu.Unlock()

	token, err = manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "direct-token", token)
	assert.Equal(t, int64(0), calls.Load())
}

func TestTokenMissingParamsIsConfigError(t *testing.T) {
	manager := newTestManager(t, Options{RefreshToken: "rtk"}, nil)

	_, err := manager.Token(context.Background())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "clientId")
	assert.Contains(t, err.Error(), "clientSecret")
	assert.Contains(t, err.Error(), "tenantId")
}

func TestTokenRefreshTokenFirstCall(t *testing.T) {
	var exchanges atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "tokA", r.Form.Get("refresh_token"))
		assert.Equal(t, "c1", r.Form.Get("client_id"))
		assert.Equal(t, "s1", r.Form.Get("client_secret"))
		assert.Equal(t, RedirectURI, r.Form.Get("redirect_uri"))
		assert.NotEmpty(t, r.Form.Get("scope"))
		exchanges.Add(1)
		writeTokenJSON(w, "atk-1", "tokA-rotated", 3600)
	})

	opts := oauthParams()
	opts.RefreshToken = "tokA"
	manager := newTestManager(t, opts, handler)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "atk-1", token)
	assert.Equal(t, int64(1), exchanges.Load())

	// The rotated refresh token is adopted and persisted.
	manager.mu.Lock()
	assert.Equal(t, "tokA-rotated", manager.cred.RefreshToken)
	manager.mu.Unlock()

	record, ok := manager.Store().Load("t1", "c1")
	require.True(t, ok)
	assert.Equal(t, "tokA-rotated", record.RefreshToken)
	assert.Equal(t, "atk-1", record.AccessToken)

	// A second call inside the expiry window performs no further exchange.
	token, err = manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "atk-1", token)
	assert.Equal(t, int64(1), exchanges.Load())
}

func TestTokenStorageBeforeProvider(t *testing.T) {
	authDir := t.TempDir()
	seed := NewStore(authDir)
	require.NoError(t, seed.Save(&Record{RefreshToken: "stored", TenantID: "t1", ClientID: "c1"}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "stored", r.Form.Get("refresh_token"))
		writeTokenJSON(w, "atk-from-stored", "", 3600)
	})

	var providerCalls atomic.Int64
	opts := oauthParams()
	opts.AuthDir = authDir
	opts.TokenProvider = func(_ context.Context, _ string) (string, error) {
		providerCalls.Add(1)
		return "never", nil
	}
	manager := newTestManager(t, opts, handler)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "atk-from-stored", token)
	assert.Equal(t, int64(0), providerCalls.Load(), "stored refresh token must not force an interactive exchange")
}

func TestTokenNoCredentialError(t *testing.T) {
	manager := newTestManager(t, oauthParams(), nil)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = manager.Token(context.Background())
		}(i)
	}
	wg.Wait()

	storePath := manager.Store().FilePath("t1", "c1")
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, IsNoCredentialError(err))
		assert.Contains(t, err.Error(), storePath)
	}
}

func TestConcurrentForgeSingleProviderExchange(t *testing.T) {
	var exchanges atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "code-X", r.Form.Get("code"))
		exchanges.Add(1)
		writeTokenJSON(w, "atk-X", "rtk-for-code-X", 3600)
	})

	var providerCalls atomic.Int64
	opts := oauthParams()
	opts.TokenProvider = func(_ context.Context, authURL string) (string, error) {
		providerCalls.Add(1)
		assert.Contains(t, authURL, "client_id=c1")
		// Hold the exchange open so every concurrent caller joins this flight.
		time.Sleep(150 * time.Millisecond)
		return "code-X", nil
	}
	manager := newTestManager(t, opts, handler)

	const n = 8
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = manager.Token(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), providerCalls.Load(), "provider must be invoked exactly once")
	assert.Equal(t, int64(1), exchanges.Load(), "code exchange must run exactly once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "atk-X", tokens[i])
	}

	manager.mu.Lock()
	assert.Equal(t, "rtk-for-code-X", manager.cred.RefreshToken)
	manager.mu.Unlock()
}

func TestConcurrentRefreshSingleExchange(t *testing.T) {
	var exchanges atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		time.Sleep(100 * time.Millisecond)
		writeTokenJSON(w, "atk-new", "", 3600)
	})

	opts := oauthParams()
	opts.RefreshToken = "rtk"
	manager := newTestManager(t, opts, handler)

	// Simulate a previously issued, now expired token.
	manager.mu.Lock()
	manager.cred.AccessToken = "atk-old"
	manager.cred.ExpiresAt = time.Now().Add(-time.Minute)
	manager.mu.Unlock()

	const n = 8
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = manager.Token(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), exchanges.Load(), "concurrent expired-token callers must share one refresh exchange")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "atk-new", tokens[i])
	}
}

func TestRefreshRejectionIsGenericRenewalError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error":"invalid_grant","error_description":"internal server detail"}`)
	})

	opts := oauthParams()
	opts.RefreshToken = "rtk"
	manager := newTestManager(t, opts, handler)

	_, err := manager.Token(context.Background())
	require.Error(t, err)
	assert.True(t, IsRenewalError(err))
	assert.NotContains(t, err.Error(), "internal server detail")
}

func TestProviderFailurePropagatesDetail(t *testing.T) {
	opts := oauthParams()
	opts.TokenProvider = func(_ context.Context, _ string) (string, error) {
		return "", fmt.Errorf("vault sealed")
	}
	manager := newTestManager(t, opts, nil)

	_, err := manager.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault sealed")
}

func TestRecover(t *testing.T) {
	t.Run("access token only surfaces remediation error", func(t *testing.T) {
		manager := newTestManager(t, Options{AccessToken: "atk"}, nil)
		err := manager.Recover(context.Background())
		assert.ErrorIs(t, err, ErrAccessTokenRejected)

		// The held token survives; there is nothing to replace it with.
		token, errToken := manager.Token(context.Background())
		require.NoError(t, errToken)
		assert.Equal(t, "atk", token)
	})

	t.Run("refresh path", func(t *testing.T) {
		var exchanges atomic.Int64
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			exchanges.Add(1)
			writeTokenJSON(w, "atk-recovered", "", 3600)
		})
		opts := oauthParams()
		opts.RefreshToken = "rtk"
		manager := newTestManager(t, opts, handler)

		require.NoError(t, manager.Recover(context.Background()))
		assert.Equal(t, int64(1), exchanges.Load())

		manager.mu.Lock()
		assert.Equal(t, "atk-recovered", manager.cred.AccessToken)
		manager.mu.Unlock()
	})

	t.Run("provider fallback after refresh rejection", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			if r.Form.Get("grant_type") == "refresh_token" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = fmt.Fprint(w, `{"error":"invalid_grant"}`)
				return
			}
			writeTokenJSON(w, "atk-forged", "rtk-forged", 3600)
		})
		opts := oauthParams()
		opts.RefreshToken = "dead"
		opts.TokenProvider = func(_ context.Context, _ string) (string, error) {
			return "code-Y", nil
		}
		manager := newTestManager(t, opts, handler)

		require.NoError(t, manager.Recover(context.Background()))

		manager.mu.Lock()
		assert.Equal(t, "atk-forged", manager.cred.AccessToken)
		assert.Equal(t, "rtk-forged", manager.cred.RefreshToken)
		manager.mu.Unlock()

		// The forged result is persisted for the next process.
		record, ok := manager.Store().Load("t1", "c1")
		require.True(t, ok)
		assert.Equal(t, "rtk-forged", record.RefreshToken)
	})

	t.Run("no recovery path available", func(t *testing.T) {
		opts := oauthParams()
		manager := newTestManager(t, opts, nil)
		err := manager.Recover(context.Background())
		assert.ErrorIs(t, err, ErrRecoveryFailed)
	})
}

func TestRetryGuardSingleSlot(t *testing.T) {
	manager := newTestManager(t, oauthParams(), nil)

	assert.True(t, manager.BeginRetry())
	assert.False(t, manager.BeginRetry(), "second claim while retrying must fail")
	manager.EndRetry()
	assert.True(t, manager.BeginRetry(), "slot reopens after EndRetry")
	manager.EndRetry()
}

func TestAuthorizationURLShape(t *testing.T) {
	opts := oauthParams()
	opts.Scopes = []string{"offline_access", "User.Read"}
	manager := newTestManager(t, opts, nil)
	manager.SetEndpoint("https://login.example.com/authorize", "https://login.example.com/token")

	authURL := manager.authorizationURL("state-1")
	assert.Contains(t, authURL, "https://login.example.com/authorize?")
	assert.Contains(t, authURL, "client_id=c1")
	assert.Contains(t, authURL, "response_type=code")
	assert.Contains(t, authURL, "response_mode=query")
	assert.Contains(t, authURL, "state=state-1")
	assert.Contains(t, authURL, "offline_access+User.Read")
}

func TestWatchStoreAdoptsExternalRefresh(t *testing.T) {
	authDir := t.TempDir()
	opts := oauthParams()
	opts.AuthDir = authDir
	opts.RefreshToken = "rtk-old"
	manager := newTestManager(t, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, manager.WatchStore(ctx))

	// Another process refreshes and rewrites the credential file.
	other := NewStore(authDir)
	require.NoError(t, other.Save(&Record{
		AccessToken:  "atk-external",
		RefreshToken: "rtk-external",
		TenantID:     "t1",
		ClientID:     "c1",
	}))

	require.Eventually(t, func() bool {
		manager.mu.Lock()
		defer manager.mu.Unlock()
		return manager.cred.RefreshToken == "rtk-external"
	}, 2*time.Second, 20*time.Millisecond)
}
