//go:build !windows
// +build !windows

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessUsage(t *testing.T) {
	buf := make([]byte, 1<<20)
	for i := range buf {
		buf[i] = byte(i)
	}
	assert.Greater(t, ResidentBytes(), uint64(0))
	assert.GreaterOrEqual(t, CPUSeconds(), float64(0))
}
