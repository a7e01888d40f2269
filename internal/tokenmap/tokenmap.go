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

// Package tokenmap stores values in a slice indexed by token. Tokens are
// dense, so the slice stays about as long as the peak number of
// simultaneous registrations.
package tokenmap

import (
	"iter"

	"github.com/urpc/echoloop/internal/token"
)

type Map[V any] struct {
	store []*V
	size  int
}

func NewMap[V any](capacity int) *Map[V] {
	return &Map[V]{
		store: make([]*V, 0, capacity),
	}
}

// Put stores v under k, replacing any previous value.
func (m *Map[V]) Put(k token.Token, v *V) {
	if k < 0 {
		panic("tokenmap: negative token")
	}

	idx := int(k)
	if idx >= len(m.store) {
		m.store = append(m.store, make([]*V, idx-len(m.store)+1)...)
	}

	if nil == m.store[idx] {
		m.size++
	}
	m.store[idx] = v
}

// Get returns the value stored under k, or nil.
func (m *Map[V]) Get(k token.Token) *V {
	if idx := int(k); idx >= 0 && idx < len(m.store) {
		return m.store[idx]
	}
	return nil
}

// Delete removes k and reports whether it was present.
func (m *Map[V]) Delete(k token.Token) bool {
	idx := int(k)
	if idx < 0 || idx >= len(m.store) || nil == m.store[idx] {
		return false
	}
	m.store[idx] = nil
	m.size--
	return true
}

// Len returns the number of stored values.
func (m *Map[V]) Len() int { return m.size }

// Range yields the stored values in token order. Deleting the yielded
// key during iteration is allowed.
func (m *Map[V]) Range() iter.Seq2[token.Token, *V] {
	return func(yield func(token.Token, *V) bool) {
		for i := 0; i < len(m.store); i++ {
			if v := m.store[i]; v != nil && !yield(token.Token(i), v) {
				return
			}
		}
	}
}
