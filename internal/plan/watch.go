package plan

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces the burst of filesystem events editors
// emit for a single save.
const debounceInterval = 200 * time.Millisecond

// Watcher re-reads a plan file whenever it changes on disk and
// delivers each successfully parsed revision on Plans. Parse failures
// are logged and skipped; the previous revision stays in effect.
type Watcher struct {
	Plans <-chan *Plan

	path string
	fw   *fsnotify.Watcher
}

// Watch starts watching the plan file. The watcher stops when ctx
// ends. The file's directory is watched rather than the file itself
// so editors that replace-on-save keep triggering events.
func Watch(ctx context.Context, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	plans := make(chan *Plan)
	w := &Watcher{Plans: plans, path: path, fw: fw}
	go w.loop(ctx, plans)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context, plans chan<- *Plan) {
	defer close(plans)
	defer w.fw.Close()

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceInterval)
			} else {
				debounce.Reset(debounceInterval)
			}
			fire = debounce.C

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: plan watcher: %v", err)

		case <-fire:
			fire = nil
			p, err := Load(w.path)
			if err != nil {
				log.Printf("WARNING: ignoring plan revision: %v", err)
				continue
			}
			select {
			case plans <- p:
			case <-ctx.Done():
				return
			}
		}
	}
}
