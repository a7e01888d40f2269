package tokenmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/urpc/echoloop/internal/token"
)

func TestMap_PutGetDelete(t *testing.T) {
	m := NewMap[string](0)
	a, b := "a", "b"

	m.Put(3, &a)
	m.Put(0, &b)

	assert.Equal(t, 2, m.Len())
	assert.Same(t, &a, m.Get(3))
	assert.Same(t, &b, m.Get(0))
	assert.Nil(t, m.Get(1))
	assert.Nil(t, m.Get(100))
	assert.Nil(t, m.Get(-1))

	assert.True(t, m.Delete(3))
	assert.False(t, m.Delete(3))
	assert.False(t, m.Delete(7))
	assert.Nil(t, m.Get(3))
	assert.Equal(t, 1, m.Len())
}

func TestMap_PutReplace(t *testing.T) {
	m := NewMap[int](4)
	one, two := 1, 2

	m.Put(1, &one)
	m.Put(1, &two)

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 2, *m.Get(1))
}

func TestMap_RangeDelete(t *testing.T) {
	m := NewMap[int](0)
	vals := []int{10, 11, 12, 13}
	for i := range vals {
		m.Put(token.Token(i*2), &vals[i])
	}

	var seen []token.Token
	for k := range m.Range() {
		seen = append(seen, k)
		m.Delete(k)
	}

	assert.Equal(t, []token.Token{0, 2, 4, 6}, seen)
	assert.Equal(t, 0, m.Len())
}

func TestMap_PutNegative(t *testing.T) {
	m := NewMap[int](0)
	v := 1
	assert.Panics(t, func() { m.Put(-1, &v) })
}
