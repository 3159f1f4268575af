package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"imp/logger"
)

// InitOptions parameterises the loader chain. Argv and Environ are
// injectable so tests can drive precedence scenarios without touching
// process state; both default to the real process values.
type InitOptions struct {
	// AppName scopes config file discovery and sectionless file keys.
	AppName string
	// Argv is the raw argument vector, without the program name.
	Argv []string
	// Environ holds KEY=value pairs for the environment loader.
	Environ []string
	// EnvFile overrides the dotenv path when no --env-file flag is present.
	EnvFile string
	// ConfigFile overrides file discovery when no --CONFIG flag is present.
	ConfigFile string
	// Overrides is the bootstrap-supplied partial config, merged last.
	Overrides map[string]map[string]any
	// Watch re-reads the resolved config file on disk changes.
	Watch bool
}

// Initialize runs the loader chain in documented precedence order: dotenv
// preload, file loader, environment loader, CLI loader, bootstrap merge,
// then the required-value gate. Later sources override earlier ones.
// It returns the path of the config file that won discovery, if any.
func (m *Manager) Initialize(opts InitOptions) (string, error) {
	if opts.Argv == nil && len(os.Args) > 1 {
		opts.Argv = os.Args[1:]
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ()
	}

	flags := parseArgv(opts.Argv)
	environ := m.preloadDotenv(flags, opts)

	configFile := m.loadFiles(flags, opts)
	m.loadEnvironment(environ)
	m.loadFlags(flags)
	m.Merge(opts.Overrides)

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	if err := m.EnforceRequired(); err != nil {
		return configFile, err
	}
	return configFile, nil
}

// preloadDotenv resolves and reads the dotenv file, appending its pairs to
// the environment list so the environment loader can see them. Real
// process variables stay ahead in the list and therefore keep winning.
func (m *Manager) preloadDotenv(flags *flagSet, opts InitOptions) []string {
	path := flags.lookup("env-file")
	if path == "" {
		path = opts.EnvFile
	}
	if path == "" {
		path = ".env"
	}

	pairs, err := godotenv.Read(path)
	if err != nil {
		m.log.Warn(logger.Fields{"path": path, "error": err.Error()}, "dotenv file could not be loaded")
		return opts.Environ
	}

	environ := make([]string, 0, len(opts.Environ)+len(pairs))
	environ = append(environ, opts.Environ...)
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		environ = append(environ, k+"="+pairs[k])
	}
	return environ
}

// loadFiles applies config files. An explicit --CONFIG switch (or the
// bootstrap option) replaces discovery with that single file; otherwise
// the candidate list is walked in order with later files overriding
// earlier ones per key. Returns the last file that contributed.
func (m *Manager) loadFiles(flags *flagSet, opts InitOptions) string {
	if explicit := firstNonEmpty(flags.lookup("CONFIG"), opts.ConfigFile); explicit != "" {
		if err := m.applyFile(explicit, opts.AppName); err != nil {
			m.log.Warn(logger.Fields{"path": explicit, "error": err.Error()}, "config file could not be read")
			return ""
		}
		return explicit
	}

	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	var winner string
	for _, path := range candidatePaths(opts.AppName, cwd, home) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := m.applyFile(path, opts.AppName); err != nil {
			m.log.Warn(logger.Fields{"path": path, "error": err.Error()}, "config file could not be read")
			continue
		}
		winner = path
	}
	return winner
}

// candidatePaths returns the fixed search list for an application's config
// files, each base path expanded with the recognised extensions.
func candidatePaths(appName, cwd, home string) []string {
	bases := []string{
		filepath.Join("/etc", appName, "config"),
		filepath.Join("/etc", appName),
		filepath.Join(cwd, "."+appName),
		filepath.Join(home, ".config", appName),
		filepath.Join(home, ".config", appName, "config"),
	}
	exts := []string{"", ".json", ".yaml", ".yml", ".ini"}
	out := make([]string, 0, len(bases)*len(exts))
	for _, base := range bases {
		for _, ext := range exts {
			out = append(out, base+ext)
		}
	}
	return out
}

// applyFile parses one config file, extension selecting the encoding, and
// applies its sections to the resolved config.
func (m *Manager) applyFile(path, appName string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		m.applyDocument(doc, appName)
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return err
		}
		m.applyDocument(doc, appName)
	default:
		// .ini and extensionless files both read as INI.
		file, err := ini.Load(raw)
		if err != nil {
			return err
		}
		for _, section := range file.Sections() {
			module := section.Name()
			if module == ini.DefaultSection {
				module = ""
			}
			for _, key := range section.Keys() {
				m.applyFileValue(module, key.Name(), key.Value(), appName)
			}
		}
	}
	return nil
}

// applyDocument walks a decoded JSON/YAML document. Nested maps are module
// sections; top-level scalars are sectionless keys.
func (m *Manager) applyDocument(doc map[string]any, appName string) {
	for name, value := range doc {
		if section, ok := value.(map[string]any); ok {
			for key, v := range section {
				m.applyFileValue(name, key, v, appName)
			}
			continue
		}
		m.applyFileValue("", name, value, appName)
	}
}

// applyFileValue stores one file-sourced value. Sectionless keys resolve
// against the application module first, then against the first module, in
// name order, that declares the key.
func (m *Manager) applyFileValue(module, key string, value any, appName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if module == "" {
		module = appName
	}
	cModule, cKey, ok := m.resolve(module, key)
	if !ok && module == appName {
		for _, candidate := range m.sortedModules() {
			if cm, ck, found := m.resolve(candidate, key); found {
				cModule, cKey, ok = cm, ck, true
				break
			}
		}
	}
	if !ok {
		m.log.Trace(logger.Fields{"module": module, "key": key}, "config file key matches no schema")
		return
	}
	m.values[cModule][cKey] = Coerce(m.schemas[cModule][cKey], value)
}

// loadEnvironment applies environment variables to every declared pair
// using the documented name-matching rules.
func (m *Manager) loadEnvironment(environ []string) {
	entries := parseEnviron(environ)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, module := range m.sortedModules() {
		for _, key := range m.sortedKeys(module) {
			if raw, ok := matchEntry(entries, module, key); ok {
				m.values[module][key] = Parse(m.schemas[module][key], raw)
			}
		}
	}
}

// loadFlags applies parsed CLI switches with the same matching rules as
// the environment loader. CLI wins over environment by running after it.
func (m *Manager) loadFlags(flags *flagSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, module := range m.sortedModules() {
		for _, key := range m.sortedKeys(module) {
			if raw, ok := matchEntry(flags.entries, module, key); ok {
				m.values[module][key] = Parse(m.schemas[module][key], raw)
			}
		}
	}
}

// entry is one name=value pair from the environment or the flag set.
type entry struct {
	name  string
	value string
}

func parseEnviron(environ []string) []entry {
	out := make([]entry, 0, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out = append(out, entry{name: kv[:i], value: kv[i+1:]})
		}
	}
	return out
}

// matchEntry finds the value for a (module, key) pair. Search order: exact
// <module>_<key>, exact bare <key>, then the same two names compared
// case-insensitively with `_` and `-` treated as interchangeable. The
// first hit in that order wins; within one rule, list order wins.
func matchEntry(entries []entry, module, key string) (string, bool) {
	qualified := module + "_" + key
	for _, e := range entries {
		if e.name == qualified {
			return e.value, true
		}
	}
	for _, e := range entries {
		if e.name == key {
			return e.value, true
		}
	}
	normQualified := normalizeName(qualified)
	for _, e := range entries {
		if normalizeName(e.name) == normQualified {
			return e.value, true
		}
	}
	normKey := normalizeName(key)
	for _, e := range entries {
		if normalizeName(e.name) == normKey {
			return e.value, true
		}
	}
	return "", false
}

// normalizeName lowercases a name and folds `-` into `_`, implementing the
// "either character" rule for separator matching.
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// flagSet holds parsed `--KEY value` / `--KEY=value` switches in argv order.
type flagSet struct {
	entries []entry
}

// parseArgv scans an argument vector for long switches. A switch without a
// following value token reads as the boolean literal "true".
func parseArgv(argv []string) *flagSet {
	fs := &flagSet{}
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
			continue
		}
		body := arg[2:]
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			fs.entries = append(fs.entries, entry{name: body[:eq], value: body[eq+1:]})
			continue
		}
		if i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "--") {
			fs.entries = append(fs.entries, entry{name: body, value: argv[i+1]})
			i++
			continue
		}
		fs.entries = append(fs.entries, entry{name: body, value: "true"})
	}
	return fs
}

// lookup finds a switch by exact or separator-folded name.
func (fs *flagSet) lookup(name string) string {
	for _, e := range fs.entries {
		if e.name == name {
			return e.value
		}
	}
	norm := normalizeName(name)
	for _, e := range fs.entries {
		if normalizeName(e.name) == norm {
			return e.value
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
