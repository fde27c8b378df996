package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RedirectURI is the fixed redirect convention used for the
// authorization-code flow. The built-in browser provider listens here.
const RedirectURI = "http://localhost:8400/auth/callback"

// tokenResponse is the JSON body returned by the token endpoint for both
// grant types.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// tokenResult is the normalized outcome of a token-endpoint exchange.
// Expire is zero when the server did not supply expires_in.
type tokenResult struct {
	AccessToken  string
	RefreshToken string
	Expire       time.Time
}

// authorizationURL builds the interactive authorization URL for the
// configured tenant, client and scopes.
func (m *Manager) authorizationURL(state string) string {
	params := url.Values{
		"client_id":     {m.cred.ClientID},
		"response_type": {"code"},
		"response_mode": {"query"},
		"redirect_uri":  {RedirectURI},
		"scope":         {strings.Join(m.cred.Scopes, " ")},
		"state":         {state},
	}
	return fmt.Sprintf("%s?%s", m.endpoint.AuthURL, params.Encode())
}

// exchangeCode exchanges an authorization code for tokens at the token
// endpoint using the authorization_code grant.
func (m *Manager) exchangeCode(ctx context.Context, code string) (*tokenResult, error) {
	data := url.Values{}
	data.Set("client_id", m.cred.ClientID)
	data.Set("client_secret", m.cred.ClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", RedirectURI)
	data.Set("grant_type", "authorization_code")
	data.Set("scope", strings.Join(m.cred.Scopes, " "))

	return m.postTokenForm(ctx, data)
}

// refreshGrant exchanges the refresh token for a new access token using the
// refresh_token grant.
func (m *Manager) refreshGrant(ctx context.Context, refreshToken string) (*tokenResult, error) {
	data := url.Values{}
	data.Set("client_id", m.cred.ClientID)
	data.Set("scope", strings.Join(m.cred.Scopes, " "))
	data.Set("refresh_token", refreshToken)
	data.Set("redirect_uri", RedirectURI)
	data.Set("grant_type", "refresh_token")
	data.Set("client_secret", m.cred.ClientSecret)

	return m.postTokenForm(ctx, data)
}

func (m *Manager) postTokenForm(ctx context.Context, data url.Values) (*tokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", m.endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorData map[string]interface{}
		if err = json.Unmarshal(body, &errorData); err == nil {
			return nil, fmt.Errorf("token exchange failed: %v - %v", errorData["error"], errorData["error_description"])
		}
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token exchange failed: access_token not found in response")
	}

	result := &tokenResult{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		result.Expire = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return result, nil
}
