// Package timeouts dilates startup budgets on slow machines.
package timeouts

import (
	"crypto/sha256"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"
)

// EnvFactor overrides the calibrated factor.
const EnvFactor = "UQDEV_TIMEOUT_FACTOR"

var (
	factor float64 = 1.0
	once   sync.Once
)

const (
	calibrationIterations = 500_000

	// ReferenceDuration is the benchmark time on a fast reference machine.
	ReferenceDuration = 32 * time.Millisecond

	minFactor = 1.0
	maxFactor = 10.0
)

// Scale returns base multiplied by the machine's factor, saturating at the
// largest Duration.
func Scale(base time.Duration) time.Duration {
	ensureCalibrated()
	return scaleBy(base, factor)
}

func scaleBy(base time.Duration, f float64) time.Duration {
	scaled := float64(base) * f
	if scaled >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// GetFactor returns the current multiplier.
func GetFactor() float64 {
	ensureCalibrated()
	return factor
}

// GetFactorString returns the factor formatted for logs.
func GetFactorString() string {
	return fmt.Sprintf("%.2fx", GetFactor())
}

func ensureCalibrated() {
	once.Do(func() {
		factor = resolveFactor(os.Getenv(EnvFactor), func() time.Duration {
			start := time.Now()
			cpuBenchmark(calibrationIterations)
			return time.Since(start)
		})
	})
}

// resolveFactor prefers a valid override and otherwise benchmarks. Both are
// clamped to [1, 10].
func resolveFactor(override string, bench func() time.Duration) float64 {
	f := 0.0
	if override != "" {
		if v, err := strconv.ParseFloat(override, 64); err == nil && v > 0 {
			f = v
		}
	}
	if f == 0 {
		f = float64(bench()) / float64(ReferenceDuration)
	}
	return clamp(f)
}

func clamp(f float64) float64 {
	if f < minFactor {
		return minFactor
	}
	if f > maxFactor {
		return maxFactor
	}
	return f
}

// cpuBenchmark hashes a small dataset repeatedly.
func cpuBenchmark(n int) {
	data := []byte("uqdev-calibration-workload")
	for i := 0; i < n; i++ {
		h := sha256.New()
		h.Write(data)
		h.Write([]byte{byte(i)})
		_ = h.Sum(nil)
	}
}
