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

// Package token hands out the small integer identifiers that correlate
// poller registrations with connection state.
package token

// Token identifies one live poller registration. A freed token may be
// handed out again to an unrelated registration.
type Token int

// Manager allocates tokens densely, reusing the most recently freed one first.
// It is not concurrency-safe; the event loop is its only user.
type Manager struct {
	used map[Token]struct{} // tokens currently allocated
	free []Token            // freed tokens, stack order
	next Token              // next never-minted token
}

func NewManager() *Manager {
	return &Manager{
		used: make(map[Token]struct{}),
	}
}

// Allocate returns an unused token.
func (m *Manager) Allocate() Token {
	var tok Token
	if n := len(m.free); n > 0 {
		tok = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		tok = m.next
		m.next++
	}
	m.used[tok] = struct{}{}
	return tok
}

// Free releases tok for reuse. Freeing a token that is not in use does nothing.
func (m *Manager) Free(tok Token) {
	if _, ok := m.used[tok]; !ok {
		return
	}
	delete(m.used, tok)
	m.free = append(m.free, tok)
}

// InUse reports whether tok is currently allocated.
func (m *Manager) InUse(tok Token) bool {
	_, ok := m.used[tok]
	return ok
}

// Len returns the number of tokens in use.
func (m *Manager) Len() int { return len(m.used) }

// Minted returns how many distinct tokens have ever been handed out.
func (m *Manager) Minted() int { return int(m.next) }
