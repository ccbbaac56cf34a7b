package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableRAMGBReturnsPositive(t *testing.T) {
	gb := AvailableRAMGB()
	assert.Greater(t, gb, 0.0)
}

func TestClampContextLenLeavesSmallRequestsUntouched(t *testing.T) {
	got := ClampContextLen(4096, 32)
	assert.Equal(t, int32(4096), got)
}

func TestClampContextLenReducesOnLowRAM(t *testing.T) {
	got := ClampContextLen(131072, 4)
	assert.Less(t, got, int32(131072))
	assert.Greater(t, got, int32(0))
}

func TestClampContextLenNoHeadroomReturnsRequested(t *testing.T) {
	got := ClampContextLen(8192, 1)
	assert.Equal(t, int32(8192), got)
}
