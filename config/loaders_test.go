package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imp/logger"
)

func loaderManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(logger.New(logger.Config{Level: "error"}))
	require.NoError(t, m.LoadProject("testing", Schema{
		"CURRENT_WEATHER": {Type: String, Default: "raining"},
		"STRING":          {Type: String},
		"PORT":            {Type: Number},
		"FEATURE-FLAG":    {Type: Boolean},
	}))
	return m
}

func TestDefaultWinsAbsentLoaders(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{AppName: "testing", Argv: []string{}, Environ: []string{}})
	require.NoError(t, err)

	value, _ := m.Get("testing", "CURRENT_WEATHER")
	assert.Equal(t, "raining", value)
}

func TestEnvironmentLowercaseMatches(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{},
		Environ: []string{"current_weather=sunny"},
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "CURRENT_WEATHER")
	assert.Equal(t, "sunny", value)
}

func TestModulePrefixedEnvBeatsBareKey(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{},
		Environ: []string{
			"CURRENT_WEATHER=bare",
			"testing_CURRENT_WEATHER=qualified",
		},
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "CURRENT_WEATHER")
	assert.Equal(t, "qualified", value)
}

func TestSeparatorInterchangeMatching(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{},
		Environ: []string{"FEATURE_FLAG=on"},
	})
	require.NoError(t, err)

	// FEATURE-FLAG is declared with a dash; the underscore variant matches.
	value, _ := m.Get("testing", "FEATURE-FLAG")
	assert.Equal(t, true, value)
}

func TestCLIEqualsFormWinsOverEnvironment(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{"--current_WEATHER=hail"},
		Environ: []string{"CURRENT_WEATHER=sunny"},
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "CURRENT_WEATHER")
	assert.Equal(t, "hail", value)
}

func TestCLISpaceFormAndCoercion(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{"--PORT", "8080"},
		Environ: []string{},
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "PORT")
	assert.Equal(t, float64(8080), value)
}

func TestBootstrapOverridesWinOverCLI(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName:   "testing",
		Argv:      []string{"--CURRENT_WEATHER=hail"},
		Environ:   []string{"CURRENT_WEATHER=sunny"},
		Overrides: map[string]map[string]any{"testing": {"CURRENT_WEATHER": "override"}},
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "CURRENT_WEATHER")
	assert.Equal(t, "override", value)
}

func TestDotenvFeedsEnvironmentLoader(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CURRENT_WEATHER=misty\n"), 0o644))

	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{},
		Environ: []string{},
		EnvFile: envFile,
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "CURRENT_WEATHER")
	assert.Equal(t, "misty", value)
}

func TestRealEnvironmentBeatsDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CURRENT_WEATHER=misty\n"), 0o644))

	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{},
		Environ: []string{"CURRENT_WEATHER=sunny"},
		EnvFile: envFile,
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "CURRENT_WEATHER")
	assert.Equal(t, "sunny", value)
}

func TestMissingDotenvIsNotFatal(t *testing.T) {
	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{},
		Environ: []string{},
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
	})
	assert.NoError(t, err)
}

func TestExplicitConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"testing":{"STRING":"from-json"}}`), 0o644))

	m := loaderManager(t)
	winner, err := m.Initialize(InitOptions{
		AppName:    "testing",
		Argv:       []string{},
		Environ:    []string{},
		ConfigFile: path,
	})
	require.NoError(t, err)
	assert.Equal(t, path, winner)

	value, _ := m.Get("testing", "STRING")
	assert.Equal(t, "from-json", value)
}

func TestConfigSwitchReplacesDiscovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "special.yaml")
	require.NoError(t, os.WriteFile(path, []byte("testing:\n  STRING: from-yaml\n"), 0o644))

	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName: "testing",
		Argv:    []string{"--CONFIG", path},
		Environ: []string{},
	})
	require.NoError(t, err)

	value, _ := m.Get("testing", "STRING")
	assert.Equal(t, "from-yaml", value)
}

func TestINISectionsMapToModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.ini")
	require.NoError(t, os.WriteFile(path, []byte("string=A\n[testing]\nPORT=9090\n"), 0o644))

	m := loaderManager(t)
	_, err := m.Initialize(InitOptions{
		AppName:    "testing",
		Argv:       []string{},
		Environ:    []string{},
		ConfigFile: path,
	})
	require.NoError(t, err)

	// Sectionless keys resolve against the application module.
	value, _ := m.Get("testing", "STRING")
	assert.Equal(t, "A", value)
	value, _ = m.Get("testing", "PORT")
	assert.Equal(t, float64(9090), value)
}

func TestLaterFileOverridesEarlier(t *testing.T) {
	dir := t.TempDir()
	etcStyle := filepath.Join(dir, "etc.ini")
	cwdStyle := filepath.Join(dir, "cwd.yaml")
	require.NoError(t, os.WriteFile(etcStyle, []byte("string=A\n"), 0o644))
	require.NoError(t, os.WriteFile(cwdStyle, []byte("STRING: B\n"), 0o644))

	m := loaderManager(t)
	require.NoError(t, m.applyFile(etcStyle, "testing"))
	require.NoError(t, m.applyFile(cwdStyle, "testing"))

	// The file later in the search list wins per key.
	value, _ := m.Get("testing", "STRING")
	assert.Equal(t, "B", value)

	// Without the later file the earlier one resolves.
	m2 := loaderManager(t)
	require.NoError(t, m2.applyFile(etcStyle, "testing"))
	value, _ = m2.Get("testing", "STRING")
	assert.Equal(t, "A", value)
}

func TestCandidatePathOrder(t *testing.T) {
	paths := candidatePaths("app", "/work", "/home/u")

	// Bases appear in documented order; each base expands every extension.
	assert.Equal(t, "/etc/app/config", paths[0])
	assert.Contains(t, paths, "/etc/app.ini")
	assert.Contains(t, paths, "/work/.app.yaml")
	assert.Contains(t, paths, "/home/u/.config/app.json")
	assert.Contains(t, paths, "/home/u/.config/app/config.yml")

	etcIdx := indexOf(paths, "/etc/app.ini")
	cwdIdx := indexOf(paths, "/work/.app.yaml")
	homeIdx := indexOf(paths, "/home/u/.config/app.json")
	assert.Less(t, etcIdx, cwdIdx)
	assert.Less(t, cwdIdx, homeIdx)
}

func indexOf(list []string, want string) int {
	for i, v := range list {
		if v == want {
			return i
		}
	}
	return -1
}

func TestParseArgvForms(t *testing.T) {
	fs := parseArgv([]string{"--a=1", "--b", "2", "--flag", "--c=x=y"})

	assert.Equal(t, "1", fs.lookup("a"))
	assert.Equal(t, "2", fs.lookup("b"))
	assert.Equal(t, "true", fs.lookup("flag"))
	// Only the first equals sign splits name from value.
	assert.Equal(t, "x=y", fs.lookup("c"))
}

func TestMatchEntryOrder(t *testing.T) {
	// Exact qualified beats exact bare.
	value, ok := matchEntry([]entry{
		{name: "WEATHER", value: "exact-bare"},
		{name: "testing_WEATHER", value: "exact-qualified"},
	}, "testing", "WEATHER")
	assert.True(t, ok)
	assert.Equal(t, "exact-qualified", value)

	// Both exact rules beat the case-insensitive tier.
	value, ok = matchEntry([]entry{
		{name: "testing_weather", value: "ci-qualified"},
		{name: "WEATHER", value: "exact-bare"},
	}, "testing", "WEATHER")
	assert.True(t, ok)
	assert.Equal(t, "exact-bare", value)

	_, ok = matchEntry([]entry{{name: "OTHER", value: "x"}}, "testing", "WEATHER")
	assert.False(t, ok)
}
