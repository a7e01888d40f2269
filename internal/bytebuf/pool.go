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

package bytebuf

import "github.com/urpc/echoloop/internal/pool"

// minChunkSize keeps small echoes from fragmenting into tiny chunks.
const minChunkSize = 4096

var chunkPool = pool.New[*chunk](65536)

type chunk struct {
	buf []byte // written bytes
	off int    // read offset into buf
}

func (c *chunk) Len() int       { return len(c.buf) - c.off }
func (c *chunk) Available() int { return cap(c.buf) - len(c.buf) }

func getChunk(capacity int) *chunk {
	c, n := chunkPool.Get(max(capacity, minChunkSize))
	if nil != c {
		return c
	}
	return &chunk{buf: make([]byte, 0, n)}
}

func putChunk(c *chunk) {
	c.buf = c.buf[:0]
	c.off = 0
	chunkPool.Put(c, cap(c.buf))
}
