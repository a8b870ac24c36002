package procid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iansmith/mazkern/internal/procid"
)

func TestNewIsMonotonicAndNeverRecycled(t *testing.T) {
	seen := map[procid.ProcessId]bool{}
	var last procid.ProcessId
	for i := 0; i < 50; i++ {
		pid := procid.New()
		if i > 0 {
			assert.Greater(t, pid, last)
		}
		assert.False(t, seen[pid], "pid %d handed out twice", pid)
		seen[pid] = true
		last = pid
	}
}

func TestKernelPidReserved(t *testing.T) {
	assert.EqualValues(t, 1, procid.KernelPid)
	assert.Greater(t, procid.New(), procid.KernelPid)
}
