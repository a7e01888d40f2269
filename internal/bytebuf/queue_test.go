package bytebuf

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatten(q *Queue) []byte {
	return bytes.Join(q.PeekVec(nil), nil)
}

func TestQueue_Empty(t *testing.T) {
	var q Queue

	assert.True(t, q.Empty())
	assert.Zero(t, q.Len())
	assert.Empty(t, q.PeekVec(nil))
	assert.Zero(t, q.Discard(10))

	n, err := q.Write(nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, q.Empty())
}

func TestQueue_WriteDiscard(t *testing.T) {
	tests := []struct {
		name    string
		writes  []string
		discard int
		want    string
	}{
		{
			name:    "discard nothing",
			writes:  []string{"hello"},
			discard: 0,
			want:    "hello",
		},
		{
			name:    "discard part of one chunk",
			writes:  []string{"hello"},
			discard: 2,
			want:    "llo",
		},
		{
			name:    "discard across writes",
			writes:  []string{"hel", "lo, ", "world"},
			discard: 5,
			want:    ", world",
		},
		{
			name:    "discard everything",
			writes:  []string{"abc", "def"},
			discard: 6,
			want:    "",
		},
		{
			name:    "discard more than held",
			writes:  []string{"abc"},
			discard: 100,
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Queue
			total := 0
			for _, w := range tt.writes {
				n, err := q.Write([]byte(w))
				require.NoError(t, err)
				require.Equal(t, len(w), n)
				total += n
			}
			require.Equal(t, total, q.Len())

			dropped := q.Discard(tt.discard)
			assert.Equal(t, min(tt.discard, total), dropped)
			assert.Equal(t, tt.want, string(flatten(&q)))
			assert.Equal(t, len(tt.want), q.Len())
		})
	}
}

func TestQueue_LargePayload(t *testing.T) {
	payload := make([]byte, 200*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	var q Queue
	for off := 0; off < len(payload); off += 160 {
		end := min(off+160, len(payload))
		_, err = q.Write(payload[off:end])
		require.NoError(t, err)
	}
	require.Equal(t, len(payload), q.Len())

	// drain in odd sized steps, the way partial writes do.
	var out []byte
	for !q.Empty() {
		vec := q.PeekVec(nil)
		step := min(7919, len(vec[0]))
		out = append(out, vec[0][:step]...)
		q.Discard(step)
	}
	assert.Equal(t, payload, out)
}

func TestQueue_Reset(t *testing.T) {
	var q Queue
	_, _ = q.Write([]byte("pending"))

	q.Reset()

	assert.True(t, q.Empty())
	assert.Empty(t, q.PeekVec(nil))

	_, _ = q.Write([]byte("again"))
	assert.Equal(t, "again", string(flatten(&q)))
}
