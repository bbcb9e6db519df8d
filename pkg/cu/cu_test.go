package cu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMeter_Consume(t *testing.T) {
	cm := NewComputeMeter(1000)
	require.NoError(t, cm.Consume(400))
	assert.Equal(t, uint64(400), cm.Used())
	assert.Equal(t, uint64(600), cm.Remaining())
	assert.False(t, cm.Exceeded())

	require.NoError(t, cm.Consume(600))
	assert.Equal(t, uint64(0), cm.Remaining())
	assert.False(t, cm.Exceeded())
}

func TestComputeMeter_Exceeded(t *testing.T) {
	cm := NewComputeMeter(1000)
	require.NoError(t, cm.Consume(400))

	assert.ErrorIs(t, cm.Consume(601), ErrComputeExceeded)
	assert.True(t, cm.Exceeded())
	assert.Equal(t, uint64(0), cm.Remaining())
	assert.Equal(t, uint64(1000), cm.Used())

	// an overdrawn meter rejects even free charges
	assert.ErrorIs(t, cm.Consume(0), ErrComputeExceeded)
}

func TestComputeMeter_Default(t *testing.T) {
	cm := NewComputeMeterDefault()
	assert.Equal(t, uint64(DefaultComputeUnitLimit), cm.Remaining())
	assert.Equal(t, uint64(0), cm.Used())
}
