package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir switches into dir for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })
	require.NoError(t, os.Chdir(dir))
}

// gitRoot returns a temp dir marked as a repository root.
func gitRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	return root
}

func sameFile(t *testing.T, expected, actual string) {
	t.Helper()
	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedPath, _ := filepath.EvalSymlinks(expected)
	actualPath, _ := filepath.EvalSymlinks(actual)
	assert.Equal(t, expectedPath, actualPath)
}

func TestFindConfigFile_ExplicitPath(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("schema: test.loam"), 0o644))

	path, err := findConfigFile(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, tmpFile, path)
}

func TestFindConfigFile_ExplicitPathNotFound(t *testing.T) {
	_, err := findConfigFile("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestFindConfigFile_AutoDiscovery(t *testing.T) {
	root := gitRoot(t)
	configPath := filepath.Join(root, "loam.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("schema: test.loam"), 0o644))

	nested := filepath.Join(root, "deep", "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	path, err := findConfigFile("")
	require.NoError(t, err)
	sameFile(t, configPath, path)
}

func TestFindConfigFile_PrefersYamlOverYml(t *testing.T) {
	root := gitRoot(t)
	yamlPath := filepath.Join(root, "loam.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("schema: yaml.loam"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "loam.yml"), []byte("schema: yml.loam"), 0o644))
	chdir(t, root)

	path, err := findConfigFile("")
	require.NoError(t, err)
	sameFile(t, yamlPath, path)
}

func TestFindConfigFile_StopsAtGitRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "loam.yaml"), []byte("schema: above.loam"), 0o644))

	project := filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".git"), 0o755))
	chdir(t, project)

	path, err := findConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, path) // Should not find config above .git
}

func TestFindConfigFile_NoConfigReturnsEmpty(t *testing.T) {
	chdir(t, gitRoot(t))

	path, err := findConfigFile("")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, gitRoot(t))

	cfg, configPath, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, configPath)

	assert.Equal(t, "schema.loam", cfg.Schema)
	assert.Equal(t, []string{"queries/*.loam"}, cfg.Queries)
	assert.Equal(t, "loam.db", cfg.Database.Path)
	assert.True(t, cfg.Database.ForeignKeys)
	assert.Equal(t, 5000, cfg.Database.BusyTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Generate.Format)
	assert.False(t, cfg.Migrate.DryRun)
}

func TestLoadConfig_FromFile(t *testing.T) {
	root := gitRoot(t)
	configPath := filepath.Join(root, "loam.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
schema: custom/schema.loam
queries:
  - ops/*.loam
database:
  path: data/app.db
  busy_timeout_ms: 250
migrate:
  name: initial
`), 0o644))
	chdir(t, root)

	cfg, foundPath, err := LoadConfig("")
	require.NoError(t, err)
	sameFile(t, configPath, foundPath)

	// Relative paths resolve against the config file.
	dir := filepath.Dir(foundPath)
	assert.Equal(t, filepath.Join(dir, "custom", "schema.loam"), cfg.Schema)
	assert.Equal(t, []string{filepath.Join(dir, "ops", "*.loam")}, cfg.Queries)
	assert.Equal(t, filepath.Join(dir, "data", "app.db"), cfg.Database.Path)
	assert.Equal(t, 250, cfg.Database.BusyTimeout)
	assert.Equal(t, "initial", cfg.Migrate.Name)

	// Check that defaults are still applied for unset values
	assert.True(t, cfg.Database.ForeignKeys)
	assert.Equal(t, "WAL", cfg.Database.Journal)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	root := gitRoot(t)
	configPath := filepath.Join(root, "loam.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("schema: file.loam"), 0o644))
	chdir(t, root)

	t.Setenv("LOAM_SCHEMA", "env.loam")

	cfg, foundPath, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(foundPath), "env.loam"), cfg.Schema)
}

func TestLoadConfig_NestedEnvVars(t *testing.T) {
	chdir(t, gitRoot(t))

	t.Setenv("LOAM_DATABASE_PATH", ":memory:")
	t.Setenv("LOAM_DATABASE_BUSY_TIMEOUT_MS", "10")
	t.Setenv("LOAM_LOG_FORMAT", "json")

	cfg, _, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Database.BusyTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name    string
		db      DatabaseConfig
		want    string
		wantErr string
	}{
		{
			name: "url wins",
			db:   DatabaseConfig{URL: "file:other.db?mode=ro", Path: "ignored.db"},
			want: "file:other.db?mode=ro",
		},
		{
			name: "path with options",
			db:   DatabaseConfig{Path: "app.db", ForeignKeys: true, BusyTimeout: 5000, Journal: "WAL"},
			want: "file:app.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL",
		},
		{
			name: "bare path",
			db:   DatabaseConfig{Path: "app.db"},
			want: "file:app.db",
		},
		{
			name:    "missing path",
			db:      DatabaseConfig{},
			wantErr: "database.path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Database: tt.db}
			dsn, err := cfg.DSN()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestSources(t *testing.T) {
	root := t.TempDir()
	schema := filepath.Join(root, "schema.loam")
	require.NoError(t, os.WriteFile(schema, []byte("record Tag {\n    id Int @id\n}\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "queries"), 0o755))
	for _, name := range []string{"b.loam", "a.loam"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "queries", name), []byte("// "+name+"\n"), 0o644))
	}

	cfg := &Config{
		Schema:  schema,
		Queries: []string{filepath.Join(root, "queries", "*.loam"), filepath.Join(root, "none", "*.loam")},
	}
	sources, err := cfg.Sources()
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, schema, sources[0].Name)
	assert.Equal(t, filepath.Join(root, "queries", "a.loam"), sources[1].Name)
	assert.Equal(t, filepath.Join(root, "queries", "b.loam"), sources[2].Name)

	cfg.Schema = filepath.Join(root, "missing.loam")
	_, err = cfg.Sources()
	require.Error(t, err)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{Log: LogConfig{Level: "warn", Format: "json"}}
	logger, err := cfg.Logger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "table", "posts")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"table":"posts"`)

	cfg.Log.Format = "xml"
	_, err = cfg.Logger(&buf)
	require.Error(t, err)

	cfg.Log = LogConfig{Level: "loud"}
	_, err = cfg.Logger(&buf)
	require.Error(t, err)
}
