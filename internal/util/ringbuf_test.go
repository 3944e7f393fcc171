package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingAppendAndItems(t *testing.T) {
	r := NewRing[int](3)
	assert.Empty(t, r.Items())

	r.Append(1)
	r.Append(2)
	assert.Equal(t, []int{1, 2}, r.Items())
	assert.Equal(t, 2, r.Len())

	r.Append(3)
	r.Append(4)
	r.Append(5)
	assert.Equal(t, []int{3, 4, 5}, r.Items(), "oldest entries are evicted")
	assert.Equal(t, 3, r.Len())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Append("a")
	r.Append("b")
	assert.Equal(t, []string{"b"}, r.Items())
}
