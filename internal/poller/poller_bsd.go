//go:build darwin || netbsd || freebsd || openbsd || dragonfly

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

package poller

import (
	"errors"
	"os"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/urpc/echoloop/internal/token"
)

type NetPoller struct {
	kqfd   int                 // kqueue fd
	wake   [2]int              // self-pipe used by Wake
	tokens map[int]token.Token // registered fd to token
	events []unix.Kevent_t     // kernel event buffer
	ready  []Event             // events returned by Wait
	mux    sync.Mutex          // guards the pipe against Close
	closed bool                // close flag
}

func NewNetPoller(maxEvents int) (*NetPoller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}

	kqfd, err := unix.Kqueue()
	if nil != err {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kqfd)

	ev := &NetPoller{
		kqfd:   kqfd,
		tokens: make(map[int]token.Token),
		events: make([]unix.Kevent_t, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}

	if err = unix.Pipe(ev.wake[:]); nil != err {
		_ = unix.Close(kqfd)
		return nil, os.NewSyscallError("pipe", err)
	}

	for _, fd := range ev.wake {
		unix.CloseOnExec(fd)
		if err = unix.SetNonblock(fd, true); nil != err {
			_ = ev.closeAll()
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}

	if err = ev.change(ev.wake[0], unix.EVFILT_READ, unix.EV_ADD); nil != err {
		_ = ev.closeAll()
		return nil, err
	}

	return ev, nil
}

func (ev *NetPoller) change(fd int, filter int, flags int) error {
	var changes [1]unix.Kevent_t
	unix.SetKevent(&changes[0], fd, filter, flags)
	_, err := unix.Kevent(ev.kqfd, changes[:], nil, nil)
	return os.NewSyscallError("kevent", err)
}

// Register adds fd to the interest list, tagging its events with tok.
func (ev *NetPoller) Register(fd int, tok token.Token, in Interest) error {
	if 0 != in&Readable {
		if err := ev.change(fd, unix.EVFILT_READ, unix.EV_ADD); nil != err {
			return err
		}
	}
	if 0 != in&Writable {
		if err := ev.change(fd, unix.EVFILT_WRITE, unix.EV_ADD); nil != err {
			return err
		}
	}
	ev.tokens[fd] = tok
	return nil
}

// Reregister replaces the interest set and token of an already registered fd.
func (ev *NetPoller) Reregister(fd int, tok token.Token, in Interest) error {
	if err := ev.toggle(fd, unix.EVFILT_READ, 0 != in&Readable); nil != err {
		return err
	}
	if err := ev.toggle(fd, unix.EVFILT_WRITE, 0 != in&Writable); nil != err {
		return err
	}
	ev.tokens[fd] = tok
	return nil
}

// Deregister removes fd from the interest list.
func (ev *NetPoller) Deregister(fd int) error {
	delete(ev.tokens, fd)
	return multierr.Append(
		ev.toggle(fd, unix.EVFILT_READ, false),
		ev.toggle(fd, unix.EVFILT_WRITE, false),
	)
}

func (ev *NetPoller) toggle(fd int, filter int, on bool) error {
	if on {
		return ev.change(fd, filter, unix.EV_ADD)
	}

	// deleting a filter that was never added is fine.
	if err := ev.change(fd, filter, unix.EV_DELETE); nil != err && !errors.Is(err, unix.ENOENT) {
		return err
	}
	return nil
}

// Wait blocks until at least one event is ready, Wake is called, or msec
// milliseconds pass. A negative msec blocks indefinitely. The returned slice
// is reused by the next call.
func (ev *NetPoller) Wait(msec int) ([]Event, error) {
	var timeout *unix.Timespec
	if msec >= 0 {
		ts := unix.NsecToTimespec(int64(msec) * 1e6)
		timeout = &ts
	}

	n, err := unix.Kevent(ev.kqfd, nil, ev.events, timeout)
	if nil != err {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, os.NewSyscallError("kevent", err)
	}

	ev.ready = ev.ready[:0]
	for i := 0; i < n; i++ {
		var event = &ev.events[i]
		fd := int(event.Ident)

		if fd == ev.wake[0] {
			ev.drainWake()
			continue
		}

		tok, ok := ev.tokens[fd]
		if !ok {
			continue
		}

		var flags uint8
		switch {
		case event.Filter == unix.EVFILT_READ:
			flags |= flagRead
		case event.Filter == unix.EVFILT_WRITE:
			flags |= flagWrite
		}
		if 0 != event.Flags&unix.EV_EOF {
			flags |= flagHup | flagRead
		}
		if 0 != event.Flags&unix.EV_ERROR {
			flags |= flagError
		}

		ev.ready = append(ev.ready, Event{tok: tok, flags: flags})
	}

	return ev.ready, nil
}

// Wake interrupts a blocked Wait. It is safe to call from any goroutine.
func (ev *NetPoller) Wake() error {
	ev.mux.Lock()
	defer ev.mux.Unlock()

	if ev.closed {
		return ErrClosed
	}

	if _, err := unix.Write(ev.wake[1], []byte{1}); nil != err && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// WakeFd returns the descriptor that turns readable once Wake is called. It
// stays readable until the next Wait.
func (ev *NetPoller) WakeFd() int { return ev.wake[0] }

func (ev *NetPoller) drainWake() {
	var buf [64]byte
	for {
		if n, err := unix.Read(ev.wake[0], buf[:]); n <= 0 || nil != err {
			return
		}
	}
}

func (ev *NetPoller) Close() error {
	ev.mux.Lock()
	defer ev.mux.Unlock()

	if ev.closed {
		return nil
	}
	ev.closed = true
	return ev.closeAll()
}

func (ev *NetPoller) closeAll() error {
	return multierr.Combine(
		os.NewSyscallError("close", unix.Close(ev.wake[0])),
		os.NewSyscallError("close", unix.Close(ev.wake[1])),
		os.NewSyscallError("close", unix.Close(ev.kqfd)),
	)
}
