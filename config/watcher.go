package config

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchProfiles reloads the profile store when files in its directory
// change. Events are debounced so an editor's write burst triggers one
// reload. Runs until ctx is cancelled.
func WatchProfiles(ctx context.Context, store *ProfileStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(store.dir); err != nil {
		return err
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("ProfileStore: watch error: %v", err)
		case <-pending:
			pending = nil
			if err := store.Reload(); err != nil {
				log.Printf("ProfileStore: reload rejected, keeping previous profiles: %v", err)
			}
		}
	}
}
