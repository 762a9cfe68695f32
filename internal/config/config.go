// Package config resolves sqldown settings.
//
// Precedence, highest first: command-line flag, SQLDOWN_* environment
// variable, .sqldown.env files, built-in default. The .sqldown.env files
// cascade: the repository root's is read first, then the working
// directory's, then the markdown root's, each overriding the one before.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/steveyegge/sqldown/internal/vcs"
)

const (
	// EnvPrefix prefixes every environment variable sqldown reads.
	EnvPrefix = "SQLDOWN"
	// EnvFile is the name of the cascading settings file.
	EnvFile = ".sqldown.env"
	// DefaultTable is used when no table is given or none can be inferred.
	DefaultTable = "docs"
	// AutoTable as a table name asks for InferTableName.
	AutoTable = "auto"
)

// Setting keys. They double as flag names.
const (
	KeyDB          = "db"
	KeyTable       = "table"
	KeyPattern     = "pattern"
	KeyMaxColumns  = "max-columns"
	KeyTopSections = "top-sections"
	KeyVerbose     = "verbose"
	KeyDebounce    = "debounce"
	KeyFeedAddr    = "feed-addr"
	KeyLogFile     = "log-file"
	KeyGitignore   = "gitignore"
)

// Defaults.
const (
	DefaultPattern     = "**/*.md"
	DefaultMaxColumns  = 1800
	DefaultTopSections = 20
	DefaultDebounce    = 150 * time.Millisecond
)

// Settings is the resolved configuration for one command.
type Settings struct {
	DB          string
	Table       string
	Pattern     string
	MaxColumns  int
	TopSections int
	Verbose     bool
	Debounce    time.Duration
	FeedAddr    string
	LogFile     string
	Gitignore   bool
}

// New returns a viper instance with sqldown's defaults and environment
// binding. workingDir decides the default database location.
func New(workingDir string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDB, DefaultDBPath(workingDir))
	v.SetDefault(KeyTable, DefaultTable)
	v.SetDefault(KeyPattern, DefaultPattern)
	v.SetDefault(KeyMaxColumns, DefaultMaxColumns)
	v.SetDefault(KeyTopSections, DefaultTopSections)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyDebounce, DefaultDebounce)
	v.SetDefault(KeyFeedAddr, "")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyGitignore, true)
	return v
}

// EnvFiles lists the .sqldown.env candidates for a run from workingDir over
// markdownRoot, in the order they are applied. Duplicates are dropped.
// markdownRoot may be empty.
func EnvFiles(workingDir, markdownRoot string) []string {
	var dirs []string
	if root := vcs.RepoRoot(workingDir); root != "" {
		dirs = append(dirs, root)
	}
	dirs = append(dirs, workingDir)
	if markdownRoot != "" {
		dirs = append(dirs, markdownRoot)
	}

	seen := make(map[string]bool)
	var files []string
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		f := filepath.Join(abs, EnvFile)
		if seen[f] {
			continue
		}
		seen[f] = true
		files = append(files, f)
	}
	return files
}

// LoadEnvFiles reads files in order and merges their settings into v below
// environment variables. Missing files are skipped. It returns the files
// that were read.
//
// Keys may be written with or without the SQLDOWN_ prefix:
// SQLDOWN_MAX_COLUMNS and MAX_COLUMNS both set max-columns.
func LoadEnvFiles(v *viper.Viper, files []string) ([]string, error) {
	merged := make(map[string]any)
	var loaded []string
	for _, f := range files {
		values, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, val := range values {
			merged[settingKey(k)] = val
		}
		loaded = append(loaded, f)
	}
	if len(merged) == 0 {
		return loaded, nil
	}
	if err := v.MergeConfigMap(merged); err != nil {
		return loaded, fmt.Errorf("failed to merge %s settings: %w", EnvFile, err)
	}
	return loaded, nil
}

// settingKey turns SQLDOWN_MAX_COLUMNS into max-columns.
func settingKey(envKey string) string {
	k := strings.TrimPrefix(strings.ToUpper(envKey), EnvPrefix+"_")
	return strings.ReplaceAll(strings.ToLower(k), "_", "-")
}

// Load reads the settings from v.
func Load(v *viper.Viper) Settings {
	return Settings{
		DB:          v.GetString(KeyDB),
		Table:       v.GetString(KeyTable),
		Pattern:     v.GetString(KeyPattern),
		MaxColumns:  v.GetInt(KeyMaxColumns),
		TopSections: v.GetInt(KeyTopSections),
		Verbose:     ParseBool(v.GetString(KeyVerbose)),
		Debounce:    v.GetDuration(KeyDebounce),
		FeedAddr:    v.GetString(KeyFeedAddr),
		LogFile:     v.GetString(KeyLogFile),
		Gitignore:   ParseBool(v.GetString(KeyGitignore)),
	}
}

// ParseBool accepts true, 1, yes and on, in any case. Anything else is
// false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "t", "y":
		return true
	}
	return false
}

// DefaultDBPath places the database at the root of the repository enclosing
// workingDir as .sqldown.db, or in workingDir as sqldown.db outside one.
func DefaultDBPath(workingDir string) string {
	if root := vcs.RepoRoot(workingDir); root != "" {
		return filepath.Join(root, ".sqldown.db")
	}
	return filepath.Join(workingDir, "sqldown.db")
}

var nonIdent = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// InferTableName derives a table name from the last element of dir:
// characters other than letters, digits and underscores become underscores,
// surrounding underscores are trimmed and a leading digit gets a "table_"
// prefix. It falls back to DefaultTable.
func InferTableName(dir string) string {
	name := filepath.Base(dir)
	if abs, err := filepath.Abs(dir); err == nil {
		name = filepath.Base(abs)
	}
	if name == "." || name == string(filepath.Separator) {
		return DefaultTable
	}

	name = strings.Trim(nonIdent.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return DefaultTable
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "table_" + name
	}
	return strings.ToLower(name)
}

// ResolveTable returns table, or the table inferred from dir when table is
// empty or AutoTable.
func ResolveTable(table, dir string) string {
	if table == "" || strings.EqualFold(table, AutoTable) {
		return InferTableName(dir)
	}
	return table
}
