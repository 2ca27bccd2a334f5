package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pelletier/go-toml/v2"
)

// LoadFile reads a config file, decoding by extension (.hcl, otherwise TOML),
// then applies defaults, resolves paths relative to the file and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		cfg, err = LoadHCL(data, path)
	default:
		cfg, err = LoadTOML(data)
	}
	if err != nil {
		return nil, err
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	if err := cfg.resolvePaths(baseDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML document and applies defaults.
func LoadTOML(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("TOML parse error: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadHCL decodes an HCL document and applies defaults.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ResultsDir == "" {
		c.ResultsDir = DefaultResultsDir
	}
	if len(c.BuildCommand) == 0 {
		c.BuildCommand = append([]string(nil), DefaultBuildCommand...)
	}
	for i := range c.Tests {
		t := &c.Tests[i]
		t.NetworkRouter.Defects = t.NetworkRouter.Defects.Normalize()
		if t.NetworkRouter.Binary == "" {
			t.NetworkRouter.Binary = DefaultRouterBinary
		}
		if t.StartupTimeoutSecs == 0 {
			t.StartupTimeoutSecs = DefaultStartupTimeoutSecs
		}
	}
}

func (c *Config) resolvePaths(baseDir string) error {
	var err error
	resolve := func(p string) string {
		if err != nil || p == "" {
			return p
		}
		var out string
		out, err = ExpandPath(p, baseDir)
		return out
	}

	c.Runtime.RepoPath = resolve(c.Runtime.RepoPath)
	c.ResultsDir = resolve(c.ResultsDir)
	for i := range c.Tests {
		t := &c.Tests[i]
		for j := range t.SetupPackagePaths {
			t.SetupPackagePaths[j] = resolve(t.SetupPackagePaths[j])
		}
		for j := range t.TestPackagePaths {
			t.TestPackagePaths[j] = resolve(t.TestPackagePaths[j])
		}
		for j := range t.Nodes {
			t.Nodes[j].Home = resolve(t.Nodes[j].Home)
		}
	}
	return err
}

// ExpandPath expands a leading ~ and makes relative paths absolute against baseDir.
func ExpandPath(p, baseDir string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	return filepath.Clean(p), nil
}
