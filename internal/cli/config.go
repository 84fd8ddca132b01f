package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/pthm/loam/pkg/compiler"
)

const (
	maxWalkDepth = 25
)

// Config represents the loam configuration from loam.yaml.
type Config struct {
	// Schema is the schema source file.
	Schema string `mapstructure:"schema" json:"schema"`
	// Queries lists query source files or glob patterns.
	Queries []string `mapstructure:"queries" json:"queries"`

	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Log      LogConfig      `mapstructure:"log" json:"log"`

	// Per-command configuration
	Generate GenerateConfig `mapstructure:"generate" json:"generate"`
	Migrate  MigrateConfig  `mapstructure:"migrate" json:"migrate"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	// URL is a complete go-sqlite3 DSN and wins over the other fields.
	URL         string `mapstructure:"url" json:"url"`
	Path        string `mapstructure:"path" json:"path"`
	ForeignKeys bool   `mapstructure:"foreign_keys" json:"foreign_keys"`
	BusyTimeout int    `mapstructure:"busy_timeout_ms" json:"busy_timeout_ms"`
	Journal     string `mapstructure:"journal_mode" json:"journal_mode"`
}

// LogConfig selects the CLI's slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// GenerateConfig holds settings for the generate command.
type GenerateConfig struct {
	Output string `mapstructure:"output" json:"output"`
	Format string `mapstructure:"format" json:"format"`
}

// MigrateConfig holds migration settings.
type MigrateConfig struct {
	DryRun bool   `mapstructure:"dry_run" json:"dry_run"`
	Force  bool   `mapstructure:"force" json:"force"`
	Name   string `mapstructure:"name" json:"name"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("LOAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Relative paths in a config file are relative to the file.
	if configPath != "" {
		cfg.resolvePaths(filepath.Dir(configPath))
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema", "schema.loam")
	v.SetDefault("queries", []string{"queries/*.loam"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "loam.db")
	v.SetDefault("database.foreign_keys", true)
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("database.journal_mode", "WAL")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("generate.output", "")
	v.SetDefault("generate.format", "json")

	v.SetDefault("migrate.dry_run", false)
	v.SetDefault("migrate.force", false)
	v.SetDefault("migrate.name", "")
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for loam.yaml or loam.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		// Try loam.yaml then loam.yml
		for _, name := range []string{"loam.yaml", "loam.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

func (c *Config) resolvePaths(base string) {
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == ":memory:" {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Schema = rel(c.Schema)
	for i, q := range c.Queries {
		c.Queries[i] = rel(q)
	}
	c.Database.Path = rel(c.Database.Path)
}

// DSN returns the go-sqlite3 data source name.
// If database.url is set, it's returned directly.
// Otherwise, builds a file: DSN from the path and connection options.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}
	if db.Path == "" {
		return "", fmt.Errorf("database.path is required when database.url is not set")
	}

	q := url.Values{}
	if db.ForeignKeys {
		q.Set("_foreign_keys", "on")
	}
	if db.BusyTimeout > 0 {
		q.Set("_busy_timeout", fmt.Sprint(db.BusyTimeout))
	}
	if db.Journal != "" {
		q.Set("_journal_mode", db.Journal)
	}
	dsn := "file:" + db.Path
	if len(q) > 0 {
		dsn += "?" + q.Encode()
	}
	return dsn, nil
}

// SchemaSource reads the schema file.
func (c *Config) SchemaSource() (compiler.Source, error) {
	sources, err := compiler.ReadSources(c.Schema)
	if err != nil {
		return compiler.Source{}, err
	}
	return sources[0], nil
}

// Sources reads the schema file followed by every query file, each glob
// expanded in lexical order. A pattern matching nothing is skipped.
func (c *Config) Sources() ([]compiler.Source, error) {
	paths := []string{c.Schema}
	seen := map[string]bool{c.Schema: true}
	for _, pattern := range c.Queries {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	return compiler.ReadSources(paths...)
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
}
