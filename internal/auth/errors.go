package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports required OAuth parameters that were not supplied.
// It is fatal and never retried.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf(
		"missing required OAuth parameters: %s. Supply them via auth.Configure, explicit Options at construction, or the YAML configuration file (tenant-id / client-id / client-secret)",
		strings.Join(e.Missing, ", "))
}

// NoCredentialError reports that no refresh token could be obtained by any
// supply path. It is fatal; the message enumerates every remediation path.
type NoCredentialError struct {
	StorePath string
}

func (e *NoCredentialError) Error() string {
	return fmt.Sprintf(
		"no refresh token available. Supply one of: (1) an access token via Options.AccessToken, (2) a refresh token via Options.RefreshToken, (3) a previously saved credential file (looked in %s), or (4) a TokenProvider for interactive authorization",
		e.StorePath)
}

// RenewalError is surfaced when the refresh-token exchange is rejected by
// the authorization server. The server response detail is logged, not
// carried in the error, so it never leaks into less-trusted layers.
type RenewalError struct {
	cause error
}

func (e *RenewalError) Error() string {
	return "token renewal failed: the authorization server rejected the refresh token"
}

func (e *RenewalError) Unwrap() error {
	return e.cause
}

// AuthenticationError represents authentication-state errors raised during
// recovery from a rejected bearer token.
type AuthenticationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Common authentication error values.
var (
	ErrProviderNotConfigured = &AuthenticationError{
		Type:    "provider_not_configured",
		Message: "no token provider configured for interactive authorization",
	}

	ErrAccessTokenRejected = &AuthenticationError{
		Type:    "access_token_rejected",
		Message: "the supplied access token was rejected and no renewal material is available. Obtain a fresh token and reconfigure",
	}

	ErrRecoveryFailed = &AuthenticationError{
		Type:    "recovery_failed",
		Message: "authentication could not be recovered after the token was rejected",
	}
)

// NewAuthenticationError derives a new error from a base value with a cause attached.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Cause:   cause,
	}
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	var configError *ConfigError
	return errors.As(err, &configError)
}

// IsNoCredentialError checks if an error is a missing-credential error.
func IsNoCredentialError(err error) bool {
	var noCredentialError *NoCredentialError
	return errors.As(err, &noCredentialError)
}

// IsRenewalError checks if an error is a renewal failure.
func IsRenewalError(err error) bool {
	var renewalError *RenewalError
	return errors.As(err, &renewalError)
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}
