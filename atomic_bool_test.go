package mapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomicBoolLoadStore(t *testing.T) {
	var b atomicBool
	assert.False(t, b.Load())
	b.Store(true)
	assert.True(t, b.Load())
	b.Store(false)
	assert.False(t, b.Load())
}

func TestAtomicBoolSwapReturnsPrevious(t *testing.T) {
	var b atomicBool
	assert.False(t, b.Swap(true))
	assert.True(t, b.Swap(true))
	assert.True(t, b.Swap(false))
	assert.False(t, b.Load())
}
