// Package config defines the declarative test-run description consumed by
// the coordinator and loads it from TOML or HCL.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultBuildCommand compiles a package or runtime checkout in place.
var DefaultBuildCommand = []string{"cargo", "build", "--release"}

const (
	DefaultResultsDir         = "build/test-results"
	DefaultRouterBinary       = "network_router"
	DefaultStartupTimeoutSecs = 15
	DefaultConfigFileName     = "tests.toml"
)

// MaxDurationSecs is the largest seconds count a time.Duration can hold.
const MaxDurationSecs = uint64(math.MaxInt64 / int64(time.Second))

// Seconds converts a seconds count to a Duration, saturating at the largest
// representable value.
func Seconds(secs uint64) time.Duration {
	if secs > MaxDurationSecs {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs) * time.Second
}

// Config is the top-level test-run specification. It is immutable once loaded.
type Config struct {
	Runtime             Runtime  `toml:"runtime" hcl:"runtime,block"`
	RuntimeBuildVerbose bool     `toml:"runtime_build_verbose" hcl:"runtime_build_verbose,optional"`
	Tests               []Test   `toml:"tests" hcl:"test,block"`
	FailFast            bool     `toml:"fail_fast" hcl:"fail_fast,optional"`
	ResultsDir          string   `toml:"results_dir" hcl:"results_dir,optional"`
	BuildCommand        []string `toml:"build_command" hcl:"build_command,optional"`
}

// Runtime selects the node binary: a released version to fetch or a local
// repository to build. Exactly one field is set.
type Runtime struct {
	FetchVersion string `toml:"FetchVersion" hcl:"fetch_version,optional"`
	RepoPath     string `toml:"RepoPath" hcl:"repo_path,optional"`
}

// IsFetch reports whether the runtime is a released version.
func (r Runtime) IsFetch() bool { return r.FetchVersion != "" }

func (r Runtime) String() string {
	if r.IsFetch() {
		return fmt.Sprintf("FetchVersion(%s)", r.FetchVersion)
	}
	return fmt.Sprintf("RepoPath(%s)", r.RepoPath)
}

// Test is one scenario and the unit of pass/fail/timeout verdict.
type Test struct {
	SetupPackagePaths   []string      `toml:"setup_package_paths" hcl:"setup_package_paths,optional"`
	TestPackagePaths    []string      `toml:"test_package_paths" hcl:"test_package_paths"`
	PackageBuildVerbose bool          `toml:"package_build_verbose" hcl:"package_build_verbose,optional"`
	TimeoutSecs         uint64        `toml:"timeout_secs" hcl:"timeout_secs"`
	NetworkRouter       NetworkRouter `toml:"network_router" hcl:"network_router,block"`
	Nodes               []Node        `toml:"nodes" hcl:"node,block"`
	TestNode            int           `toml:"test_node" hcl:"test_node,optional"`
	StartupTimeoutSecs  uint64        `toml:"startup_timeout_secs" hcl:"startup_timeout_secs,optional"`
}

// NetworkRouter drives exactly one router process per Test.
type NetworkRouter struct {
	Port    uint16  `toml:"port" hcl:"port"`
	Defects Defects `toml:"defects" hcl:"defects,optional"`
	Binary  string  `toml:"binary" hcl:"binary,optional"`
}

// Defects is the router's defect-injection policy.
type Defects string

const (
	DefectsNone Defects = "none"
)

// Normalize lower-cases the policy and maps the empty value to none.
func (d Defects) Normalize() Defects {
	n := Defects(strings.ToLower(strings.TrimSpace(string(d))))
	if n == "" {
		return DefectsNone
	}
	return n
}

// Valid reports whether the router understands the policy.
func (d Defects) Valid() bool {
	return d.Normalize() == DefectsNone
}

// Node is the launch description of one simulated node.
type Node struct {
	Port           uint16  `toml:"port" hcl:"port"`
	Home           string  `toml:"home" hcl:"home"`
	FakeNodeName   *string `toml:"fake_node_name" hcl:"fake_node_name,optional"`
	Password       *string `toml:"password" hcl:"password,optional"`
	RPC            *string `toml:"rpc" hcl:"rpc,optional"`
	RuntimeVerbose bool    `toml:"runtime_verbose" hcl:"runtime_verbose,optional"`
}

// Name returns the node's identity, defaulting to fake<index+1>.uq.
func (n Node) Name(index int) string {
	if n.FakeNodeName != nil && *n.FakeNodeName != "" {
		return *n.FakeNodeName
	}
	return fmt.Sprintf("fake%d.uq", index+1)
}

// NodeNames returns the identities of every node in the test, in order.
func (t Test) NodeNames() []string {
	names := make([]string, len(t.Nodes))
	for i, n := range t.Nodes {
		names[i] = n.Name(i)
	}
	return names
}

// Packages returns setup then test package paths.
func (t Test) Packages() []string {
	out := make([]string, 0, len(t.SetupPackagePaths)+len(t.TestPackagePaths))
	out = append(out, t.SetupPackagePaths...)
	return append(out, t.TestPackagePaths...)
}
