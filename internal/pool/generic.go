package pool

import (
	"sync"
	"sync/atomic"
)

// Pool reuses objects distinguishable by size. Sizes are rounded up to a
// power of two and bucketed into at most 64 shards.
type Pool[T any] struct {
	pool     []sync.Pool
	size     func(int) int
	stepSize int
	hit      atomic.Int32
	miss     atomic.Int32
}

// New creates a Pool for objects of up to max bytes.
func New[T any](max int) *Pool[T] {
	maxSize := CeilToPowerOfTwo(Max(max, 1))

	shardSize := Max(1, Min(maxSize, 64))
	stepSize := CeilToPowerOfTwo(maxSize / shardSize)
	if stepSize*shardSize < maxSize {
		shardSize++
	}

	return &Pool[T]{
		pool: make([]sync.Pool, shardSize),
		size: func(i int) int {
			if i <= stepSize {
				return stepSize
			}
			return CeilToPowerOfTwo(i)
		},
		stepSize: stepSize,
	}
}

// Get pulls an object whose size is at least size. It also returns the real
// size to allocate when the pool is empty and x is the zero value.
func (p *Pool[T]) Get(size int) (T, int) {
	n := p.size(size)

	if idx := (n - 1) / p.stepSize; idx < len(p.pool) {
		if v := p.pool[idx].Get(); v != nil {
			p.hit.Add(1)
			return v.(T), n
		}
		p.miss.Add(1)
	}

	var zero T
	return zero, n
}

// Put takes x and its size for future reuse.
func (p *Pool[T]) Put(x T, size int) {
	if size < p.stepSize {
		return
	}

	if idx := (size - 1) / p.stepSize; idx < len(p.pool) {
		p.pool[idx].Put(x)
	}
}

// Stats returns the number of Get calls served from and missed by the pool.
func (p *Pool[T]) Stats() (hit, miss int) {
	return int(p.hit.Load()), int(p.miss.Load())
}

// CeilToPowerOfTwo returns the least power of two integer value greater than
// or equal to n.
func CeilToPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	x := 1
	for x < n {
		x <<= 1
	}
	return x
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
