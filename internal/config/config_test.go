package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
runtime = { RepoPath = "uqbar" }
runtime_build_verbose = false

[[tests]]
setup_package_paths = []
test_package_paths = ["tests/key_value_test"]
package_build_verbose = false
timeout_secs = 10

[tests.network_router]
port = 9001
defects = "None"

[[tests.nodes]]
port = 8080
home = "home/first"
fake_node_name = "first.uq"
runtime_verbose = false

[[tests.nodes]]
port = 8081
home = "home/second"
password = "secret"
runtime_verbose = true
`

const sampleHCL = `
runtime {
  fetch_version = "0.4.0"
}
fail_fast = true

test {
  test_package_paths = ["tests/chat_test"]
  timeout_secs       = 30

  network_router {
    port = 9002
  }

  node {
    port = 8090
    home = "/tmp/uqdev/a"
    fake_node_name = "a.uq"
  }
}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestLoadFile_TOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tests.toml", sampleTOML)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "uqbar"), cfg.Runtime.RepoPath)
	assert.False(t, cfg.Runtime.IsFetch())
	require.Len(t, cfg.Tests, 1)

	test := cfg.Tests[0]
	assert.Equal(t, uint64(10), test.TimeoutSecs)
	assert.Equal(t, DefectsNone, test.NetworkRouter.Defects)
	assert.Equal(t, uint16(9001), test.NetworkRouter.Port)
	assert.Equal(t, DefaultRouterBinary, test.NetworkRouter.Binary)
	assert.Equal(t, uint64(DefaultStartupTimeoutSecs), test.StartupTimeoutSecs)
	assert.Equal(t, []string{filepath.Join(dir, "tests/key_value_test")}, test.TestPackagePaths)

	require.Len(t, test.Nodes, 2)
	assert.Equal(t, filepath.Join(dir, "home/first"), test.Nodes[0].Home)
	assert.Equal(t, []string{"first.uq", "fake2.uq"}, test.NodeNames())
	require.NotNil(t, test.Nodes[1].Password)
	assert.Equal(t, "secret", *test.Nodes[1].Password)
	assert.Nil(t, test.Nodes[1].RPC)
	assert.True(t, test.Nodes[1].RuntimeVerbose)

	assert.Equal(t, DefaultBuildCommand, cfg.BuildCommand)
	assert.Equal(t, filepath.Join(dir, DefaultResultsDir), cfg.ResultsDir)
	assert.False(t, cfg.FailFast)
}

func TestLoadFile_HCL(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tests.hcl", sampleHCL)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.4.0", cfg.Runtime.FetchVersion)
	assert.True(t, cfg.Runtime.IsFetch())
	assert.True(t, cfg.FailFast)
	require.Len(t, cfg.Tests, 1)
	assert.Equal(t, uint64(30), cfg.Tests[0].TimeoutSecs)
	assert.Equal(t, uint16(9002), cfg.Tests[0].NetworkRouter.Port)
	require.Len(t, cfg.Tests[0].Nodes, 1)
	assert.Equal(t, "/tmp/uqdev/a", cfg.Tests[0].Nodes[0].Home)
	assert.Equal(t, "a.uq", cfg.Tests[0].Nodes[0].Name(0))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadTOML_ParseError(t *testing.T) {
	_, err := LoadTOML([]byte("tests = [[[ nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOML parse error")
}

func validConfig() *Config {
	name := "a.uq"
	cfg := &Config{
		Runtime: Runtime{RepoPath: "/src/uqbar"},
		Tests: []Test{{
			TestPackagePaths: []string{"/pkgs/t"},
			TimeoutSecs:      5,
			NetworkRouter:    NetworkRouter{Port: 9000},
			Nodes:            []Node{{Port: 8080, Home: "/h/a", FakeNodeName: &name}},
		}},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		problem string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no runtime", func(c *Config) { c.Runtime = Runtime{} }, "one of FetchVersion or RepoPath"},
		{"both runtimes", func(c *Config) { c.Runtime.FetchVersion = "1.0" }, "mutually exclusive"},
		{"no tests", func(c *Config) { c.Tests = nil }, "at least one test"},
		{"zero timeout", func(c *Config) { c.Tests[0].TimeoutSecs = 0 }, "timeout_secs"},
		{"huge timeout", func(c *Config) { c.Tests[0].TimeoutSecs = math.MaxUint64 / 1000 }, "timeout_secs 18446744073709551 exceeds maximum"},
		{"huge startup timeout", func(c *Config) { c.Tests[0].StartupTimeoutSecs = MaxDurationSecs + 1 }, "startup_timeout_secs"},
		{"max timeout", func(c *Config) { c.Tests[0].TimeoutSecs = MaxDurationSecs }, ""},
		{"bad defects", func(c *Config) { c.Tests[0].NetworkRouter.Defects = "latency" }, "unknown network_router.defects"},
		{"no nodes", func(c *Config) { c.Tests[0].Nodes = nil }, "at least one node"},
		{"router port clash", func(c *Config) { c.Tests[0].Nodes[0].Port = 9000 }, "already used by network_router"},
		{"test node range", func(c *Config) { c.Tests[0].TestNode = 3 }, "test_node 3 out of range"},
		{"duplicate names", func(c *Config) {
			c.Tests[0].Nodes = append(c.Tests[0].Nodes, Node{Port: 8081, Home: "/h/b", FakeNodeName: c.Tests[0].Nodes[0].FakeNodeName})
		}, "duplicates nodes[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.problem == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 10*time.Second, Seconds(10))
	assert.Equal(t, time.Duration(MaxDurationSecs)*time.Second, Seconds(MaxDurationSecs))
	assert.Equal(t, time.Duration(math.MaxInt64), Seconds(MaxDurationSecs+1))
	assert.Equal(t, time.Duration(math.MaxInt64), Seconds(math.MaxUint64))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/uqbar", "/base")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "uqbar"), got)

	got, err = ExpandPath("pkg/../tests", "/base")
	require.NoError(t, err)
	assert.Equal(t, "/base/tests", got)

	got, err = ExpandPath("/abs/path", "/base")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}

func TestDefects(t *testing.T) {
	assert.Equal(t, DefectsNone, Defects("").Normalize())
	assert.Equal(t, DefectsNone, Defects(" None ").Normalize())
	assert.True(t, Defects("NONE").Valid())
	assert.False(t, Defects("drop").Valid())
}
