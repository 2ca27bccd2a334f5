package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordVerdict(t *testing.T) {
	r := New()
	r.RecordVerdict("pass", 2*time.Second)
	r.RecordVerdict("pass", time.Second)
	r.RecordVerdict("timeout", 10*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Verdicts.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Verdicts.WithLabelValues("timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.TestDuration))
}

func TestRecordLaunchTracksNodes(t *testing.T) {
	r := New()
	r.RecordLaunch(nil)
	r.RecordLaunch(nil)
	r.RecordLaunch(errors.New("port in use"))
	r.RecordNodeReleased()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.NodeLaunches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.NodeLaunches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TrackedNodes))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordCleanupError()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CleanupErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CleanupErrors))
	assert.Same(t, Get(), Get())
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.RecordBuild(nil)
	r.RecordCleanupError()

	path := filepath.Join(t.TempDir(), "uqdev.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "uqdev_cleanup_errors_total 1")
	assert.Contains(t, string(data), `uqdev_package_builds_total{result="ok"} 1`)
}
