// Package config provides configuration management for the graphauth CLI.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including OAuth parameters,
// the credential storage directory, debug settings, and proxy configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// TenantID is the directory (tenant) identifier used for token exchanges.
	TenantID string `yaml:"tenant-id"`

	// ClientID is the application (client) identifier registered with the
	// identity platform.
	ClientID string `yaml:"client-id"`

	// ClientSecret is the client secret for confidential token exchanges.
	// It is read from configuration only and never written back to disk.
	ClientSecret string `yaml:"client-secret"`

	// Scopes is the ordered list of OAuth scopes requested during exchanges.
	Scopes []string `yaml:"scopes"`

	// AccessToken optionally supplies a bearer token directly, enabling
	// access-token-only mode when no refresh token is available.
	AccessToken string `yaml:"access-token"`

	// RefreshToken optionally supplies a long-lived refresh token.
	RefreshToken string `yaml:"refresh-token"`

	// AuthDir overrides the platform-default credential storage directory.
	AuthDir string `yaml:"auth-dir"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LogToFile redirects logging output to rotating files instead of stdout.
	LogToFile bool `yaml:"log-to-file"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url"`

	// AllowInsecure disables TLS certificate verification on outbound requests.
	AllowInsecure bool `yaml:"allow-insecure"`
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, and returns it.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}
