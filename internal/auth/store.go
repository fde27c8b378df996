package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	storeFolderName = "graphauth"
	legacyFileName  = "tokens.json"
)

// Record is the non-secret credential material persisted per tenant+client
// pair. The client secret is deliberately absent from this type so it can
// never reach disk.
type Record struct {
	// AccessToken is the last issued bearer token.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain new access tokens.
	RefreshToken string `json:"refresh_token"`
	// Expire is the RFC3339 timestamp at which AccessToken expires, if known.
	Expire string `json:"expired,omitempty"`
	// ClientID identifies the application the tokens were issued to.
	ClientID string `json:"client_id,omitempty"`
	// TenantID identifies the directory the tokens were issued under.
	TenantID string `json:"tenant_id,omitempty"`
	// LastRefresh is the timestamp of the last successful exchange.
	LastRefresh string `json:"last_refresh,omitempty"`
}

// Entry describes one credential file discovered in the store directory.
// Legacy entries carry only the filename; their identity is unknown.
type Entry struct {
	TenantID string
	ClientID string
	File     string
	Legacy   bool
}

// Store persists credential records as JSON files in a single directory,
// one file per tenant+client pair plus an optional legacy shared file.
type Store struct {
	dir string
	mu  sync.Mutex
}

// ResolveStoreDir returns the platform-default credential directory:
// %LOCALAPPDATA%\graphauth on Windows, $XDG_CONFIG_HOME/graphauth elsewhere,
// with home-relative fallbacks when the environment variable is unset.
func ResolveStoreDir() string {
	if runtime.GOOS == "windows" {
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, storeFolderName)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return storeFolderName
		}
		return filepath.Join(home, "AppData", "Local", storeFolderName)
	}

	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, storeFolderName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return storeFolderName
	}
	return filepath.Join(home, ".config", storeFolderName)
}

// NewStore builds a store rooted at dir. An empty dir selects the
// platform-default location.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = ResolveStoreDir()
	}
	return &Store{dir: dir}
}

// Dir returns the directory backing this store.
func (s *Store) Dir() string {
	return s.dir
}

// FilePath resolves the credential file for a tenant+client pair. When
// either identifier is unknown the legacy shared filename is used.
func (s *Store) FilePath(tenantID, clientID string) string {
	if tenantID != "" && clientID != "" {
		return filepath.Join(s.dir, fmt.Sprintf("tokens.%s.%s.json", tenantID, clientID))
	}
	return filepath.Join(s.dir, legacyFileName)
}

// Save writes the record to its tenant+client file, creating the store
// directory if needed. The directory is created with owner-only permissions
// and the file is written 0600 via a temp file and rename.
func (s *Store) Save(record *Record) error {
	if record == nil {
		return fmt.Errorf("credential store: record is nil")
	}
	path := s.FilePath(record.TenantID, record.ClientID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("credential store: create dir failed: %w", err)
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("credential store: marshal record failed: %w", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("credential store: write temp failed: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("credential store: rename failed: %w", err)
	}
	log.Debugf("saved credentials to %s", path)
	return nil
}

// Load reads the record for a tenant+client pair. A missing file or a file
// that does not parse is a normal not-found outcome, never an error. Stray
// client_secret fields written by older builds are scrubbed from disk before
// the record is returned.
func (s *Store) Load(tenantID, clientID string) (*Record, bool) {
	path := s.FilePath(tenantID, clientID)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("credential store: read %s failed: %v", path, err)
		}
		return nil, false
	}

	if gjson.GetBytes(data, "client_secret").Exists() {
		scrubbed, errScrub := sjson.DeleteBytes(data, "client_secret")
		if errScrub == nil {
			data = scrubbed
			if errWrite := os.WriteFile(path, data, 0o600); errWrite != nil {
				log.Warnf("credential store: scrub rewrite of %s failed: %v", path, errWrite)
			} else {
				log.Infof("removed client secret from legacy credential file %s", path)
			}
		}
	}

	var record Record
	if err = json.Unmarshal(data, &record); err != nil {
		log.Warnf("credential store: %s is not valid JSON, ignoring: %v", path, err)
		return nil, false
	}
	return &record, true
}

// List enumerates every credential file in the store directory. Filenames
// matching tokens.<tenant>.<client>.json resolve to their identity; any other
// tokens*.json file is reported as a legacy entry with only its filename.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential store: read dir failed: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		name := dirEntry.Name()
		if !strings.HasPrefix(name, "tokens.") || !strings.HasSuffix(name, ".json") {
			continue
		}
		parts := strings.Split(name, ".")
		if len(parts) == 4 && parts[0] == "tokens" && parts[3] == "json" {
			entries = append(entries, Entry{TenantID: parts[1], ClientID: parts[2], File: name})
			continue
		}
		entries = append(entries, Entry{File: name, Legacy: true})
	}
	return entries, nil
}

// Clear deletes credential files. With both identifiers set only that pair's
// file is removed; otherwise every discoverable token file is deleted.
// Missing files are not an error; other failures are logged and skipped.
func (s *Store) Clear(tenantID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenantID != "" && clientID != "" {
		path := s.FilePath(tenantID, clientID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("credential store: delete %s failed: %v", path, err)
		}
		return nil
	}

	entries, err := s.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(s.dir, entry.File)
		if errRemove := os.Remove(path); errRemove != nil && !os.IsNotExist(errRemove) {
			log.Warnf("credential store: delete %s failed: %v", path, errRemove)
		}
	}
	return nil
}
