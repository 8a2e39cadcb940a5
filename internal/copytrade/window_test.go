package copytrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTradeWindow_InsertAndEvict(t *testing.T) {
	w := newTradeWindow(3)

	assert.True(t, w.Insert("a", 10))
	assert.True(t, w.Insert("b", 20))
	assert.True(t, w.Insert("c", 30))
	assert.Equal(t, 3, w.Len())

	// Over capacity: exactly the oldest entry goes.
	assert.True(t, w.Insert("d", 40))
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 90.0, w.Volume(""))
	assert.Equal(t, []string{"b", "c", "d"}, w.order)
}

func TestTradeWindow_DuplicateHashIsNoop(t *testing.T) {
	w := newTradeWindow(3)

	assert.True(t, w.Insert("a", 10))
	assert.False(t, w.Insert("a", 999))
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 10.0, w.Volume(""))
}

func TestTradeWindow_VolumeExcludesHash(t *testing.T) {
	w := newTradeWindow(5)
	w.Insert("a", 10)
	w.Insert("b", 20)
	w.Insert("c", 30)

	assert.Equal(t, 60.0, w.Volume(""))
	assert.Equal(t, 50.0, w.Volume("a"))
	assert.Equal(t, 30.0, w.Volume("c"))
}
