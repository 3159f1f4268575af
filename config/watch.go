package config

import (
	"context"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"

	"imp/logger"
)

// WatchFile re-reads one config file whenever it changes on disk and
// applies differing leaf values through Set, so OnUpdate watchers observe
// the change. The watch ends when ctx is cancelled.
func (m *Manager) WatchFile(ctx context.Context, path, appName string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return err
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				m.reloadFile(path, appName)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				m.log.Warn(logger.Fields{"error": err.Error()}, "config file watch error")
			}
		}
	}()
	return nil
}

// reloadFile parses the file into a scratch manager sharing this manager's
// schemas, then pushes changed values through Set so notification order
// and filtering behave exactly as a manual write would.
func (m *Manager) reloadFile(path, appName string) {
	m.mu.RLock()
	scratch := &Manager{
		log:     m.log,
		schemas: m.schemas,
		values:  make(map[string]map[string]any, len(m.schemas)),
	}
	for module := range m.schemas {
		scratch.values[module] = make(map[string]any)
	}
	m.mu.RUnlock()

	if err := scratch.applyFile(path, appName); err != nil {
		m.log.Warn(logger.Fields{"path": path, "error": err.Error()}, "config file reload failed")
		return
	}

	type change struct {
		module, key string
		value       any
	}
	var changes []change
	m.mu.RLock()
	for _, module := range scratch.sortedModules() {
		for key, value := range scratch.values[module] {
			if current, ok := m.values[module][key]; !ok || !equalValue(current, value) {
				changes = append(changes, change{module: module, key: key, value: value})
			}
		}
	}
	m.mu.RUnlock()

	for _, c := range changes {
		if err := m.Set(c.module, c.key, c.value); err != nil {
			m.log.Warn(logger.Fields{"module": c.module, "key": c.key, "error": err.Error()}, "config reload write rejected")
		}
	}
	if len(changes) > 0 {
		m.log.Info(logger.Fields{"path": path, "changes": len(changes)}, "configuration reloaded from file")
	}
}

// equalValue compares leaves without assuming comparability; slices and
// records come out of the parsers as fresh values every reload.
func equalValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
