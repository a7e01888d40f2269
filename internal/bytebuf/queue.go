/*
 * Copyright 2024 the urpc project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bytebuf holds bytes accepted for a connection that the socket could
// not take yet.
package bytebuf

// Queue is a FIFO of pending bytes stored in pooled chunks.
// The zero value is an empty queue ready to use.
type Queue struct {
	chunks []*chunk
	size   int
}

// Empty reports whether no bytes are pending.
func (q *Queue) Empty() bool { return 0 == q.size }

// Len returns the number of pending bytes.
func (q *Queue) Len() int { return q.size }

// Write appends a copy of p. It never fails.
func (q *Queue) Write(p []byte) (n int, err error) {
	if 0 == len(p) {
		return 0, nil
	}

	if sz := len(q.chunks); sz > 0 {
		last := q.chunks[sz-1]
		if space := last.Available(); space > 0 {
			wn := min(space, len(p))
			last.buf = append(last.buf, p[:wn]...)
			n += wn
			p = p[wn:]
		}
	}

	if len(p) > 0 {
		c := getChunk(len(p))
		c.buf = append(c.buf, p...)
		n += len(p)
		q.chunks = append(q.chunks, c)
	}

	q.size += n
	return n, nil
}

// PeekVec appends the pending bytes to dst as a vector suitable for writev,
// without consuming them.
func (q *Queue) PeekVec(dst [][]byte) [][]byte {
	for _, c := range q.chunks {
		dst = append(dst, c.buf[c.off:])
	}
	return dst
}

// Discard drops the first n pending bytes and returns how many were dropped.
func (q *Queue) Discard(n int) int {
	if n <= 0 || 0 == q.size {
		return 0
	}

	n = min(n, q.size)
	left := n

	var endIdx int
	for endIdx < len(q.chunks) && left > 0 {
		c := q.chunks[endIdx]
		sz := c.Len()
		if sz > left {
			c.off += left
			break
		}
		left -= sz
		endIdx++
	}

	q.removeRange(endIdx)
	q.size -= n
	return n
}

// Reset drops everything and returns the chunks to the pool.
func (q *Queue) Reset() {
	q.removeRange(len(q.chunks))
	q.size = 0
}

func (q *Queue) removeRange(endIdx int) {
	if endIdx <= 0 {
		return
	}

	for idx, c := range q.chunks[:endIdx] {
		putChunk(c)
		q.chunks[idx] = nil // avoid memory leak
	}
	if len(q.chunks) == endIdx {
		q.chunks = q.chunks[:0]
	} else {
		q.chunks = q.chunks[endIdx:]
	}
}
