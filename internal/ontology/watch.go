package ontology

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses editor save bursts into one reload
const debounce = 300 * time.Millisecond

// Watch re-parses the document at path whenever it changes and hands valid
// documents to onChange. Invalid documents are logged and skipped. Blocks
// until the context is cancelled.
func Watch(ctx context.Context, path string, onChange func(context.Context, *Document) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames by editors are seen.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: ontology watcher error: %v", err)

		case <-timer.C:
			doc, err := ParseFile(abs)
			if err != nil {
				log.Printf("Warning: ignoring invalid ontology update: %v", err)
				continue
			}
			if err := onChange(ctx, doc); err != nil {
				log.Printf("Warning: failed to apply ontology update: %v", err)
			}
		}
	}
}
