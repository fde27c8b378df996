// Package cmd implements the graphauth command bodies: interactive login,
// token retrieval, and credential file management.
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	"github.com/mgraph-tools/graphauth/internal/auth"
	"github.com/mgraph-tools/graphauth/internal/config"
)

// optionsFromConfig lifts the YAML configuration into the auth Options shape.
func optionsFromConfig(cfg *config.Config) auth.Options {
	return auth.Options{
		AccessToken:   cfg.AccessToken,
		RefreshToken:  cfg.RefreshToken,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		TenantID:      cfg.TenantID,
		Scopes:        cfg.Scopes,
		AllowInsecure: cfg.AllowInsecure,
		ProxyURL:      cfg.ProxyURL,
		AuthDir:       cfg.AuthDir,
	}
}

// DoLogin runs the interactive authorization flow and persists the
// resulting credentials.
func DoLogin(cfg *config.Config, noBrowser bool) {
	log.Info("Initializing authentication...")

	opts := optionsFromConfig(cfg)
	opts.TokenProvider = auth.BrowserProvider(noBrowser)
	// An existing stored credential would short-circuit the interactive
	// exchange; login means the user wants a fresh one.
	opts.RefreshToken = ""
	opts.AccessToken = ""

	manager := auth.NewManager(opts, nil)
	if cfg.TenantID != "" && cfg.ClientID != "" {
		if err := manager.Store().Clear(cfg.TenantID, cfg.ClientID); err != nil {
			log.Warnf("failed to clear previous credentials: %v", err)
		}
	}

	if _, err := manager.Token(context.Background()); err != nil {
		log.Fatalf("Authentication failed: %v", err)
		return
	}

	log.Info("Authentication successful!")
	log.Infof("Credentials saved to %s", manager.Store().FilePath(cfg.TenantID, cfg.ClientID))
}

// DoToken prints a currently valid access token on stdout, exercising the
// full acquisition path without any interactive fallback.
func DoToken(cfg *config.Config) {
	manager := auth.NewManager(optionsFromConfig(cfg), nil)
	token, err := manager.Token(context.Background())
	if err != nil {
		log.Fatalf("Failed to obtain access token: %v", err)
		return
	}
	fmt.Println(token)
}

// DoList prints every credential file discoverable in the store directory.
func DoList(cfg *config.Config) {
	store := auth.NewStore(cfg.AuthDir)
	entries, err := store.List()
	if err != nil {
		log.Fatalf("Failed to list credentials: %v", err)
		return
	}
	if len(entries) == 0 {
		log.Infof("No stored credentials in %s", store.Dir())
		return
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(writer, "TENANT\tCLIENT\tFILE")
	for _, entry := range entries {
		tenantID, clientID := entry.TenantID, entry.ClientID
		if entry.Legacy {
			tenantID, clientID = "-", "-"
		}
		_, _ = fmt.Fprintf(writer, "%s\t%s\t%s\n", tenantID, clientID, entry.File)
	}
	_ = writer.Flush()
}

// DoClear deletes stored credentials: one tenant+client pair when both are
// given, everything discoverable otherwise.
func DoClear(cfg *config.Config, tenantID, clientID string) {
	store := auth.NewStore(cfg.AuthDir)
	if err := store.Clear(tenantID, clientID); err != nil {
		log.Fatalf("Failed to clear credentials: %v", err)
		return
	}
	if tenantID != "" && clientID != "" {
		log.Infof("Cleared credentials for tenant %s, client %s", tenantID, clientID)
	} else {
		log.Infof("Cleared all stored credentials in %s", store.Dir())
	}
}
