// Package testutil holds helpers shared by the package tests: buffer
// assertions, environment gates and small processors with predictable output.
package testutil

import (
	"math"
	"os"
	"testing"

	"github.com/shaban/rthost/buffer"
)

// DefaultTolerance is the sample comparison tolerance used by AssertBufferValue.
const DefaultTolerance = 1e-5

// SkipUnlessEnv skips the test unless the given env var equals the wanted value.
func SkipUnlessEnv(t *testing.T, key, want string) {
	t.Helper()
	if os.Getenv(key) != want {
		t.Skipf("skipped: set %s=%s to run", key, want)
	}
}

// IsCI reports whether running under common CI environments.
func IsCI() bool {
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		return true
	}
	return false
}

// FillBuffer sets every sample of b to v.
func FillBuffer(b buffer.Buffer, v float32) {
	b.Fill(v)
}

// RampBuffer writes 0, 1, 2, ... into every channel of b.
func RampBuffer(b buffer.Buffer) {
	for c := 0; c < b.Channels(); c++ {
		for i := range b.Channel(c) {
			b.Channel(c)[i] = float32(i)
		}
	}
}

// AssertBufferValue fails unless every sample of b is within tolerance of want.
func AssertBufferValue(t *testing.T, b buffer.Buffer, want float32, tolerance float64) {
	t.Helper()
	for c := 0; c < b.Channels(); c++ {
		for i, s := range b.Channel(c) {
			if math.Abs(float64(s-want)) > tolerance {
				t.Fatalf("channel %d sample %d = %v, want %v", c, i, s, want)
			}
		}
	}
}

// AssertChannelValue checks a single channel of b.
func AssertChannelValue(t *testing.T, b buffer.Buffer, channel int, want float32, tolerance float64) {
	t.Helper()
	for i, s := range b.Channel(channel) {
		if math.Abs(float64(s-want)) > tolerance {
			t.Fatalf("channel %d sample %d = %v, want %v", channel, i, s, want)
		}
	}
}

// AssertBuffersEqual fails unless a and b hold the same samples.
func AssertBuffersEqual(t *testing.T, a, b buffer.Buffer, tolerance float64) {
	t.Helper()
	if a.Channels() != b.Channels() || a.Frames() != b.Frames() {
		t.Fatalf("shape %dx%d != %dx%d", a.Channels(), a.Frames(), b.Channels(), b.Frames())
	}
	for c := 0; c < a.Channels(); c++ {
		for i := range a.Channel(c) {
			if math.Abs(float64(a.Channel(c)[i]-b.Channel(c)[i])) > tolerance {
				t.Fatalf("channel %d sample %d: %v != %v", c, i, a.Channel(c)[i], b.Channel(c)[i])
			}
		}
	}
}
