package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterminePerformanceCores(t *testing.T) {
	t.Parallel()

	cases := []struct {
		brand string
		want  int
	}{
		{"Intel(R) Core(TM) i7-12700K", 8},
		{"Intel(R) Core(TM) i5-13600K", 6},
		{"Apple M2 Pro", 8},
		{"Apple M1", 4},
		{"Some Unknown CPU", 0},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, determinePerformanceCores(tc.brand), tc.brand)
	}
}

func TestGetOptimalThreadCountCapsAtAvailableCPUs(t *testing.T) {
	t.Parallel()

	spec := CPUSpec{PerformanceCores: 1 << 20}
	assert.LessOrEqual(t, spec.GetOptimalThreadCount(), runtime.NumCPU())
	assert.Greater(t, spec.GetOptimalThreadCount(), 0)
}
