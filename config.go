package testid

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAttributeKeyword = "data-test-id"
	DefaultTestID           = "test"
)

// ConfigFileNames are looked up, in order, in the project root.
var ConfigFileNames = []string{".testidrc.json", ".testidrc.yaml", ".testidrc.yml"}

type Config struct {
	AttributeKeyword string   `yaml:"attributeKeyword" json:"attributeKeyword" validate:"attrname"`
	IgnoreElements   []string `yaml:"ignoreElements" json:"ignoreElements"`
	OnlyElements     []string `yaml:"onlyElements" json:"onlyElements,omitempty"`
	DefaultTestID    string   `yaml:"defaultTestId" json:"defaultTestId" validate:"idsuffix"`

	Extensions      []string `yaml:"extensions" json:"extensions"`
	ExcludeDirs     []string `yaml:"excludeDirs" json:"excludeDirs"`
	ExcludePatterns []string `yaml:"excludePatterns" json:"excludePatterns" validate:"dive,glob"`
}

func DefaultConfig() *Config {
	return &Config{
		AttributeKeyword: DefaultAttributeKeyword,
		IgnoreElements:   []string{},
		DefaultTestID:    DefaultTestID,
		Extensions:       []string{".jsx", ".tsx", ".html", ".vue", ".svelte"},
		ExcludeDirs:      []string{"node_modules", ".git", "dist", "build"},
		ExcludePatterns:  []string{"*.min.js"},
	}
}

// LoadConfig overlays the file at path on DefaultConfig. JSON is a subset of
// YAML, so both .testidrc.json and .testidrc.yaml are read the same way.
// Blank string fields in the file keep their default.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if strings.TrimSpace(config.AttributeKeyword) == "" {
		config.AttributeKeyword = DefaultAttributeKeyword
	}
	if strings.TrimSpace(config.DefaultTestID) == "" {
		config.DefaultTestID = DefaultTestID
	}

	return config, nil
}

// FindConfigFile returns the first project config file found in dir, or ""
// when the directory has none.
func FindConfigFile(dir string) string {
	for _, name := range ConfigFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// InScope reports whether tags named tagName should be annotated. A non-empty
// OnlyElements list overrides IgnoreElements.
func (c *Config) InScope(tagName string) bool {
	if len(c.OnlyElements) > 0 {
		return slices.Contains(c.OnlyElements, tagName)
	}
	return !slices.Contains(c.IgnoreElements, tagName)
}

// MatchesFile reports whether path has one of the configured extensions.
func (c *Config) MatchesFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range c.Extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// ExcludesFile reports whether a file base name matches one of ExcludePatterns.
func (c *Config) ExcludesFile(name string) bool {
	for _, pattern := range c.ExcludePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
