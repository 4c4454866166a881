package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunks(t *testing.T) {
	t.Run("empty batch yields no chunks", func(t *testing.T) {
		assert.Nil(t, chunks([]int{}, 50))
	})

	t.Run("batch smaller than chunk size is one chunk", func(t *testing.T) {
		got := chunks([]int{1, 2, 3}, 50)
		assert.Len(t, got, 1)
		assert.Equal(t, []int{1, 2, 3}, got[0])
	})

	t.Run("batch splits at the chunk boundary", func(t *testing.T) {
		in := make([]int, 120)
		for i := range in {
			in[i] = i
		}
		got := chunks(in, 50)
		assert.Len(t, got, 3)
		assert.Len(t, got[0], 50)
		assert.Len(t, got[1], 50)
		assert.Len(t, got[2], 20)
		assert.Equal(t, 0, got[0][0])
		assert.Equal(t, 119, got[2][19])
	})

	t.Run("exact multiple has no trailing partial chunk", func(t *testing.T) {
		got := chunks(make([]int, 100), 50)
		assert.Len(t, got, 2)
		assert.Len(t, got[1], 50)
	})
}
