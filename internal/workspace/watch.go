package workspace

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"testimpact/internal/logging"
)

// Watch invalidates a lazily-parsed file's cached symbols whenever it
// changes on disk, so a long-lived lazy-mode Manager (e.g. behind the
// HTTP façade) stays correct without a full re-Initialize. It blocks
// until ctx is cancelled. Mirrors the teacher's incremental rescanning
// use of fsnotify (internal/world/incremental_scan.go).
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, f := range m.Files() {
		_ = w.Add(f)
	}

	log := logging.For(logging.CategoryWorkspace).Sugar()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.invalidate(ev.Name)
				log.Debugf("invalidated %s after %s", ev.Name, ev.Op)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch error: %v", err)
		}
	}
}

// invalidate marks a file as unparsed so the next SemanticModelFor
// call re-parses it. It does not remove the file's previously emitted
// facts from the index. On re-parse, AddType replaces a type's
// declaration, AddMethod keeps the node first registered under an
// existing MethodId, and raw call sites and attributes are appended
// again alongside the earlier ones.
func (m *Manager) invalidate(file string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parsedFiles, file)
}
