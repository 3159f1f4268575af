package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	imperr "imp/errors"
	"imp/logger"
)

// UpdateFunc is invoked after a value changes via Set. It receives the
// canonical module and key names along with the freshly written value.
type UpdateFunc func(module, key string, value any)

type watcher struct {
	fn     UpdateFunc
	module string
	key    string
}

// Manager owns the resolved configuration: a two-level mapping from module
// name to config key to typed value. It is the sole writer; every other
// component reads through it. Keys are frozen once their schema is
// registered, values may change at runtime via Set.
type Manager struct {
	mu          sync.RWMutex
	log         logger.Logger
	schemas     map[string]Schema
	values      map[string]map[string]any
	watchers    []watcher
	initialized bool
}

// NewManager creates an empty configuration manager.
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		log:     log.With("boilerplate:configuration"),
		schemas: make(map[string]Schema),
		values:  make(map[string]map[string]any),
	}
}

// LoadProject registers a module's schema and seeds declared defaults.
// Registering after the loaders have already run is a programming error:
// the module would never have seen file/env/CLI values.
func (m *Manager) LoadProject(module string, schema Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return imperr.New(imperr.CodeLateConfigure, "module %q declared its schema after loaders ran", module)
	}

	m.schemas[module] = schema
	if m.values[module] == nil {
		m.values[module] = make(map[string]any)
	}
	for key, spec := range schema {
		if spec.Default != nil {
			m.values[module][key] = Coerce(spec, spec.Default)
		}
	}
	return nil
}

// Get returns the resolved value for a (module, key) pair. The second
// return reports whether the pair is known and currently holds a value.
func (m *Manager) Get(module, key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	module, key, ok := m.resolve(module, key)
	if !ok {
		return nil, false
	}
	v, ok := m.values[module][key]
	return v, ok
}

// Set writes a single leaf value and fires matching watchers synchronously,
// in registration order, after the write lands. Unknown pairs and attempts
// to replace a whole module object are rejected.
func (m *Manager) Set(module, key string, value any) error {
	if key == "" {
		return imperr.New(imperr.CodeUnknownConfig, "cannot assign over module %q, set leaf keys individually", module)
	}

	m.mu.Lock()
	cModule, cKey, ok := m.resolve(module, key)
	if !ok {
		m.mu.Unlock()
		return imperr.New(imperr.CodeUnknownConfig, "unknown config %s.%s", module, key)
	}
	spec := m.schemas[cModule][cKey]
	if isObject(value) && spec.Type != Record && spec.Type != Internal {
		m.mu.Unlock()
		return imperr.New(imperr.CodeUnknownConfig, "cannot assign an object over %s.%s, set leaf keys individually", cModule, cKey)
	}
	coerced := Coerce(spec, value)
	m.values[cModule][cKey] = coerced
	observers := make([]watcher, len(m.watchers))
	copy(observers, m.watchers)
	m.mu.Unlock()

	for _, w := range observers {
		if w.module != "" && !strings.EqualFold(w.module, cModule) {
			continue
		}
		if w.key != "" && !strings.EqualFold(w.key, cKey) {
			continue
		}
		w.fn(cModule, cKey, coerced)
	}
	return nil
}

// isObject reports whether a value is a whole-object write.
func isObject(value any) bool {
	switch value.(type) {
	case map[string]any, map[string]string:
		return true
	default:
		return false
	}
}

// Has reports whether a module has a registered schema.
func (m *Manager) Has(module string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.schemas[module]
	return ok
}

// Keys returns the registered module names in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ModuleKeys returns the declared config keys of one module, sorted.
func (m *Manager) ModuleKeys(module string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.schemas[module]))
	for key := range m.schemas[module] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// OnUpdate registers a change watcher. The optional filter narrows it to a
// module and, with a second element, a key; both compare case-insensitively.
func (m *Manager) OnUpdate(fn UpdateFunc, filter ...string) {
	w := watcher{fn: fn}
	if len(filter) > 0 {
		w.module = filter[0]
	}
	if len(filter) > 1 {
		w.key = filter[1]
	}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()
}

// Merge deep-merges a partial resolved config. It runs after module
// declarations and loaders so bootstrap-supplied values win. Pairs no
// schema ever declared are skipped with a warning: keys are frozen at
// wire time.
func (m *Manager) Merge(partial map[string]map[string]any) {
	if partial == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for module, inner := range partial {
		for key, value := range inner {
			cModule, cKey, ok := m.resolve(module, key)
			if !ok {
				m.log.Warn(logger.Fields{"module": module, "key": key}, "merge skipped undeclared config pair")
				continue
			}
			m.values[cModule][cKey] = Coerce(m.schemas[cModule][cKey], value)
		}
	}
}

// EnforceRequired verifies that every spec marked required resolved to a
// value. Each violation is written to stderr before the typed failure is
// returned; the caller decides whether the process exits.
func (m *Manager) EnforceRequired() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var missing []string
	for _, module := range m.sortedModules() {
		for _, key := range m.sortedKeys(module) {
			spec := m.schemas[module][key]
			if !spec.Required {
				continue
			}
			if _, ok := m.values[module][key]; !ok {
				missing = append(missing, module+"."+key)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	for _, pair := range missing {
		fmt.Fprintf(os.Stderr, "missing required configuration: %s\n", pair)
	}
	return imperr.New(imperr.CodeMissingRequiredConfig, "unresolved required config: %s", strings.Join(missing, ", "))
}

// DumpSchema renders the registered schemas and current values as indented
// JSON, for the SCAN_CONFIG introspection dump.
func (m *Manager) DumpSchema() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type keyDump struct {
		Type        Type     `json:"type"`
		Default     any      `json:"default,omitempty"`
		Enum        []string `json:"enum,omitempty"`
		Required    bool     `json:"required,omitempty"`
		Description string   `json:"description,omitempty"`
		Value       any      `json:"value,omitempty"`
	}
	dump := make(map[string]map[string]keyDump, len(m.schemas))
	for module, schema := range m.schemas {
		dump[module] = make(map[string]keyDump, len(schema))
		for key, spec := range schema {
			dump[module][key] = keyDump{
				Type:        spec.Type,
				Default:     spec.Default,
				Enum:        spec.Enum,
				Required:    spec.Required,
				Description: spec.Description,
				Value:       m.values[module][key],
			}
		}
	}
	return json.MarshalIndent(dump, "", "  ")
}

// Reset clears loader state so the manager can serve another bootstrap of
// the same process. Schemas, values and watchers are dropped together.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas = make(map[string]Schema)
	m.values = make(map[string]map[string]any)
	m.watchers = nil
	m.initialized = false
}

// resolve maps possibly differently-cased names onto the canonical
// (module, key) pair from the registered schemas. Callers must hold mu.
func (m *Manager) resolve(module, key string) (string, string, bool) {
	schema, ok := m.schemas[module]
	if !ok {
		for name := range m.schemas {
			if strings.EqualFold(name, module) {
				module, schema, ok = name, m.schemas[name], true
				break
			}
		}
		if !ok {
			return "", "", false
		}
	}
	if _, ok := schema[key]; ok {
		return module, key, true
	}
	for name := range schema {
		if strings.EqualFold(name, key) {
			return module, name, true
		}
	}
	return "", "", false
}

func (m *Manager) sortedModules() []string {
	out := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) sortedKeys(module string) []string {
	out := make([]string, 0, len(m.schemas[module]))
	for key := range m.schemas[module] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// View is the read-through handle bound to one module, handed to services
// through their parameter bundle. Module-relative reads and writes go
// through the bound name; the global API stays reachable for cross-module
// introspection.
type View struct {
	m      *Manager
	module string
}

// Bind creates a view scoped to the given module.
func (m *Manager) Bind(module string) *View {
	return &View{m: m, module: module}
}

// Module returns the bound module name.
func (v *View) Module() string {
	return v.module
}

// Get reads a key of the bound module. Unknown keys read as nil.
func (v *View) Get(key string) any {
	value, _ := v.m.Get(v.module, key)
	return value
}

// Set writes a key of the bound module.
func (v *View) Set(key string, value any) error {
	return v.m.Set(v.module, key, value)
}

// OnUpdate watches the bound module, optionally narrowed to one key.
func (v *View) OnUpdate(fn UpdateFunc, key ...string) {
	filter := append([]string{v.module}, key...)
	v.m.OnUpdate(fn, filter...)
}

// Manager exposes the global configuration API.
func (v *View) Manager() *Manager {
	return v.m
}
