package auth

import (
	"context"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// WatchStore watches this identity's credential file and adopts tokens
// written by other processes, so long-running consumers pick up refreshes
// performed elsewhere instead of burning their own exchanges. The watch
// runs until ctx is cancelled.
func (m *Manager) WatchStore(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = watcher.Add(m.store.Dir()); err != nil {
		_ = watcher.Close()
		return err
	}

	target := m.store.FilePath(m.cred.TenantID, m.cred.ClientID)

	go func() {
		defer func() {
			_ = watcher.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				record, loaded := m.store.Load(m.cred.TenantID, m.cred.ClientID)
				if !loaded || record.RefreshToken == "" {
					continue
				}
				m.mu.Lock()
				changed := record.RefreshToken != m.cred.RefreshToken || record.AccessToken != m.cred.AccessToken
				m.mu.Unlock()
				if changed {
					m.adoptRecord(record)
					log.Infof("adopted externally refreshed credentials from %s", target)
				}
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("credential watcher error: %v", errWatch)
			}
		}
	}()
	return nil
}
