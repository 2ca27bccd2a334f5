package config

import (
	"errors"
	"fmt"
)

// ValidationError collects every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	msg := fmt.Sprintf("invalid config (%d problems):", len(e.Problems))
	for _, p := range e.Problems {
		msg += "\n  - " + p
	}
	return msg
}

// Validate checks structural constraints that decoding cannot express.
func (c *Config) Validate() error {
	v := &ValidationError{}
	add := func(format string, args ...any) {
		v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Runtime.FetchVersion == "" && c.Runtime.RepoPath == "":
		add("runtime: one of FetchVersion or RepoPath is required")
	case c.Runtime.FetchVersion != "" && c.Runtime.RepoPath != "":
		add("runtime: FetchVersion and RepoPath are mutually exclusive")
	}

	if len(c.Tests) == 0 {
		add("tests: at least one test is required")
	}

	for i, t := range c.Tests {
		prefix := fmt.Sprintf("tests[%d]", i)
		if len(t.TestPackagePaths) == 0 {
			add("%s: test_package_paths must not be empty", prefix)
		}
		if t.TimeoutSecs == 0 {
			add("%s: timeout_secs must be greater than zero", prefix)
		}
		if t.TimeoutSecs > MaxDurationSecs {
			add("%s: timeout_secs %d exceeds maximum %d", prefix, t.TimeoutSecs, MaxDurationSecs)
		}
		if t.StartupTimeoutSecs > MaxDurationSecs {
			add("%s: startup_timeout_secs %d exceeds maximum %d", prefix, t.StartupTimeoutSecs, MaxDurationSecs)
		}
		if !t.NetworkRouter.Defects.Valid() {
			add("%s: unknown network_router.defects %q", prefix, t.NetworkRouter.Defects)
		}
		if t.NetworkRouter.Port == 0 {
			add("%s: network_router.port is required", prefix)
		}
		if len(t.Nodes) == 0 {
			add("%s: at least one node is required", prefix)
		}
		if t.TestNode < 0 || (len(t.Nodes) > 0 && t.TestNode >= len(t.Nodes)) {
			add("%s: test_node %d out of range", prefix, t.TestNode)
		}

		ports := map[uint16]string{t.NetworkRouter.Port: "network_router"}
		names := map[string]int{}
		for j, n := range t.Nodes {
			np := fmt.Sprintf("%s.nodes[%d]", prefix, j)
			if n.Port == 0 {
				add("%s: port is required", np)
			} else if owner, dup := ports[n.Port]; dup {
				add("%s: port %d already used by %s", np, n.Port, owner)
			} else {
				ports[n.Port] = np
			}
			if n.Home == "" {
				add("%s: home is required", np)
			}
			name := n.Name(j)
			if prev, dup := names[name]; dup {
				add("%s: node name %q duplicates nodes[%d]", np, name, prev)
			}
			names[name] = j
		}
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

// IsValidationError reports whether err is a config validation failure.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
