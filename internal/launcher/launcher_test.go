package launcher

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/testutil"
)

func TestStartAndGracefulShutdown(t *testing.T) {
	sleep := testutil.RequireBinary(t, "sleep")

	p, err := Start("sleeper", Options{Binary: sleep, Args: []string{"30"}})
	require.NoError(t, err)
	defer p.Close()

	assert.False(t, p.Exited())
	require.NoError(t, p.RequestGracefulShutdown())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, p.Exited())
}

func TestStopKillsAfterGrace(t *testing.T) {
	sh := testutil.RequireBinary(t, "sh")

	// Ignore SIGINT so only the kill ends it.
	p, err := Start("stubborn", Options{Binary: sh, Args: []string{"-c", "trap '' INT; sleep 30"}})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Stop(200*time.Millisecond))
	assert.True(t, p.Exited())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestOutputCaptured(t *testing.T) {
	echo := testutil.RequireBinary(t, "echo")

	var out safeBuffer
	p, err := Start("echo", Options{Binary: echo, Args: []string{"hello-pty"}, Output: &out})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "hello-pty")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOutputDrainedAfterExit(t *testing.T) {
	sh := testutil.RequireBinary(t, "sh")

	var out safeBuffer
	p, err := Start("crasher", Options{
		Binary: sh,
		Args:   []string{"-c", "i=0; while [ $i -lt 200 ]; do echo line-$i; i=$((i+1)); done; echo last-words; exit 3"},
		Output: &out,
	})
	require.NoError(t, err)
	defer p.Close()

	select {
	case <-p.OutputDone():
	case <-time.After(5 * time.Second):
		t.Fatal("terminal output never drained")
	}
	assert.Contains(t, out.String(), "line-199")
	assert.Contains(t, out.String(), "last-words")
}

func TestCloseEndsOutputCopy(t *testing.T) {
	sleep := testutil.RequireBinary(t, "sleep")

	p, err := Start("sleeper", Options{Binary: sleep, Args: []string{"60"}})
	require.NoError(t, err)
	defer func() { _ = p.Kill() }()

	p.Close()
	select {
	case <-p.OutputDone():
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not end the output copy")
	}
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start("ghost", Options{Binary: "/nonexistent/uqbar"})
	require.Error(t, err)

	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "ghost", le.Name)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestStartPortInUse(t *testing.T) {
	sleep := testutil.RequireBinary(t, "sleep")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	_, err = Start("busy", Options{Binary: sleep, Args: []string{"1"}, Port: port})
	assert.ErrorIs(t, err, ErrPortInUse)
}

func TestNodeArgs(t *testing.T) {
	pw := "secret"
	node := config.Node{Port: 8080, Home: "/tmp/home1", Password: &pw, RuntimeVerbose: true}

	args := NodeArgs(node, 0, 9000)
	assert.Equal(t, []string{
		"/tmp/home1",
		"--port", "8080",
		"--network-router-port", "9000",
		"--fake-node-name", "fake1.uq",
		"--password", "secret",
		"--verbose",
	}, args)
}

func TestLaunchNodeCreatesHome(t *testing.T) {
	sleep := testutil.RequireBinary(t, "sleep")
	home := filepath.Join(t.TempDir(), "nested", "home")

	// sleep rejects the node flags and exits; the home dir must exist anyway.
	info, err := LaunchNode(config.Node{Home: home}, 1, NodeOptions{Binary: sleep})
	require.NoError(t, err)
	defer info.Close()

	assert.DirExists(t, home)
	assert.Equal(t, "fake2.uq", info.Name)
	assert.Equal(t, home, info.Home)

	require.NoError(t, info.Stop(time.Second))
}

func TestFindBinary(t *testing.T) {
	sh := testutil.RequireBinary(t, "sh")

	p, err := FindBinary("sh")
	require.NoError(t, err)
	assert.NotEmpty(t, p)

	p, err = FindBinary(sh)
	require.NoError(t, err)
	assert.Equal(t, sh, p)

	_, err = FindBinary("definitely-not-a-real-binary-xyz")
	assert.Error(t, err)

	_, err = FindBinary(t.TempDir())
	assert.Error(t, err)
}
