// Package testutil holds helpers shared by process-level tests.
package testutil

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireBinary returns the path of name, skipping the test when it is not
// on PATH.
func RequireBinary(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available", name)
	}
	return p
}

// WriteScript writes an executable shell script called name into a temp dir
// and returns its path. It stands in for the runtime or router binary.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()
	RequireBinary(t, "sh")
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// FreePort returns a loopback TCP port that was free when asked.
func FreePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// PortOf extracts the port of an httptest server URL.
func PortOf(t *testing.T, rawURL string) uint16 {
	t.Helper()
	_, p, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return uint16(n)
}

// NodeHome creates a node home directory holding dirs, each with a nested
// entry, plus a keys dir and a .keys file that cleanup must leave alone.
func NodeHome(t *testing.T, dirs ...string) string {
	t.Helper()
	home := t.TempDir()
	for _, d := range append(append([]string(nil), dirs...), "keys") {
		require.NoError(t, os.MkdirAll(filepath.Join(home, d, "inner"), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(home, ".keys"), []byte("k"), 0o600))
	return home
}
