//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

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

// Package poller wraps the kernel readiness interface. Registrations carry a
// token chosen by the caller; delivered events report that token, never the fd.
package poller

import (
	"errors"

	"github.com/urpc/echoloop/internal/token"
)

// ErrClosed is returned by operations on a closed poller.
var ErrClosed = errors.New("poller: closed")

// Interest is the set of readiness kinds a registration asks for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// flag bits reported on an Event.
const (
	flagRead uint8 = 1 << iota
	flagWrite
	flagError
	flagHup
)

// Event is one readiness notification.
type Event struct {
	tok   token.Token
	flags uint8
}

func (e Event) Token() token.Token { return e.tok }

// Readable reports read readiness. Peer shutdown also counts as readable.
func (e Event) Readable() bool { return 0 != e.flags&flagRead }

func (e Event) Writable() bool { return 0 != e.flags&flagWrite }

// Error reports a pending socket error.
func (e Event) Error() bool { return 0 != e.flags&flagError }

// Hangup reports that the peer closed one or both directions.
func (e Event) Hangup() bool { return 0 != e.flags&flagHup }
