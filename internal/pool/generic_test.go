package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilToPowerOfTwo(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{n: -3, want: 1},
		{n: 0, want: 1},
		{n: 1, want: 1},
		{n: 2, want: 2},
		{n: 3, want: 4},
		{n: 160, want: 256},
		{n: 4096, want: 4096},
		{n: 4097, want: 8192},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CeilToPowerOfTwo(tt.n), "n=%d", tt.n)
	}
}

func TestPool_GetPut(t *testing.T) {
	p := New[[]byte](65536)

	b, n := p.Get(100)
	assert.Nil(t, b)
	assert.GreaterOrEqual(t, n, 100)

	p.Put(make([]byte, 0, n), n)

	// sync.Pool may drop entries at any GC, so only the size contract is stable.
	got, m := p.Get(100)
	assert.Equal(t, n, m)
	if nil != got {
		assert.Equal(t, n, cap(got))
	}

	hit, miss := p.Stats()
	assert.Equal(t, 2, hit+miss)
}

func TestPool_Oversized(t *testing.T) {
	p := New[[]byte](1024)

	b, n := p.Get(1 << 20)
	assert.Nil(t, b)
	assert.Equal(t, 1<<20, n)

	// out of range sizes are neither pooled nor counted.
	p.Put(make([]byte, 0, n), n)
	hit, miss := p.Stats()
	assert.Zero(t, hit+miss)
}
