// Package config holds all configuration options for the janitor.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/GhrammR/the-janitor/pkg/parser"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LanguageSelector names the language family being analyzed.
type LanguageSelector string

const (
	SelectPython LanguageSelector = "python"
	SelectJS     LanguageSelector = "javascript-typescript"
	SelectAll    LanguageSelector = "all"
)

// Includes reports whether a detected language falls under the selector.
func (s LanguageSelector) Includes(lang parser.Language) bool {
	switch s {
	case SelectPython:
		return lang == parser.LangPython
	case SelectJS:
		return lang.IsJS()
	default:
		return lang != parser.LangUnknown
	}
}

// Extensions returns the source extensions owned by the selector. The grep
// shield uses this to exclude the analyzed language's own files.
func (s LanguageSelector) Extensions() []string {
	switch s {
	case SelectPython:
		return []string{".py", ".pyw", ".pyi"}
	case SelectJS:
		return []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}
	default:
		return []string{".py", ".pyw", ".pyi", ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}
	}
}

// Config holds all configuration options.
type Config struct {
	// Languages selects which language family to analyze.
	Languages LanguageSelector `koanf:"languages"`

	// LibraryMode treats every non-underscore-prefixed symbol as part of
	// the public API, referenced by unknown external callers.
	LibraryMode bool `koanf:"library_mode"`

	// GrepShield enables the opt-in literal-name search across non-source
	// files before a symbol may be classified dead.
	GrepShield bool `koanf:"grep_shield"`

	// IncludeVendored disables the vendored-directory exclusion.
	IncludeVendored bool `koanf:"include_vendored"`

	// TestCommand overrides the autodetected test runner.
	TestCommand string `koanf:"test_command"`

	// RulesDir overrides the embedded wisdom rule packs.
	RulesDir string `koanf:"rules_dir"`

	Exclude ExcludeConfig `koanf:"exclude"`
	Cache   CacheConfig   `koanf:"cache"`
	Output  OutputConfig  `koanf:"output"`
}

// ExcludeConfig defines file exclusion patterns.
type ExcludeConfig struct {
	Patterns  []string `koanf:"patterns"`
	Dirs      []string `koanf:"dirs"`
	Gitignore bool     `koanf:"gitignore"`
}

// CacheConfig controls the analysis cache.
type CacheConfig struct {
	Enabled bool `koanf:"enabled"`
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format string `koanf:"format"` // text, json, markdown
	Color  bool   `koanf:"color"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Languages: SelectAll,
		Exclude: ExcludeConfig{
			Patterns: []string{
				"*.min.js",
				"*.min.css",
			},
			Gitignore: true,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
	}
}

// Load loads configuration from a file, choosing the parser by extension.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault tries standard config locations or returns defaults.
func LoadOrDefault() *Config {
	configNames := []string{
		"janitor.toml",
		"janitor.yaml",
		"janitor.yml",
		"janitor.json",
		".janitor.toml",
		".janitor.yaml",
		".janitor.yml",
		".janitor.json",
	}

	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			if cfg, err := Load(name); err == nil {
				return cfg
			}
		}
	}

	return DefaultConfig()
}
