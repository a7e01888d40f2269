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
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/urpc/echoloop/internal/token"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
	hupEvents   = unix.EPOLLHUP | unix.EPOLLRDHUP
)

// wakeData tags the eventfd registration. Tokens are never negative.
const wakeData = -1

type NetPoller struct {
	epfd   int               // epoll fd
	wakefd int               // eventfd used by Wake
	events []unix.EpollEvent // kernel event buffer
	ready  []Event           // events returned by Wait
	mux    sync.Mutex        // guards wakefd against Close
	closed bool              // close flag
}

func NewNetPoller(maxEvents int) (*NetPoller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Fd:     wakeData,
		Events: unix.EPOLLIN,
	})
	if err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	return &NetPoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}, nil
}

// Register adds fd to the interest list, tagging its events with tok.
func (ev *NetPoller) Register(fd int, tok token.Token, in Interest) error {
	return ev.ctl(unix.EPOLL_CTL_ADD, fd, tok, in)
}

// Reregister replaces the interest set and token of an already registered fd.
func (ev *NetPoller) Reregister(fd int, tok token.Token, in Interest) error {
	return ev.ctl(unix.EPOLL_CTL_MOD, fd, tok, in)
}

// Deregister removes fd from the interest list.
func (ev *NetPoller) Deregister(fd int) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(ev.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (ev *NetPoller) ctl(op int, fd int, tok token.Token, in Interest) error {
	// the token travels in the 32-bit data word of epoll_event.
	if tok < 0 || tok > math.MaxInt32 {
		return fmt.Errorf("poller: token %d out of range", tok)
	}

	var events uint32
	if 0 != in&Readable {
		events |= readEvents
	}
	if 0 != in&Writable {
		events |= writeEvents
	}

	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(ev.epfd, op, fd, &unix.EpollEvent{
		Fd:     int32(tok),
		Events: events,
	}))
}

// Wait blocks until at least one event is ready, Wake is called, or msec
// milliseconds pass. A negative msec blocks indefinitely. The returned slice
// is reused by the next call.
func (ev *NetPoller) Wait(msec int) ([]Event, error) {
	n, err := unix.EpollWait(ev.epfd, ev.events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	ev.ready = ev.ready[:0]
	for _, event := range ev.events[:n] {
		if wakeData == event.Fd {
			ev.drainWake()
			continue
		}

		var flags uint8
		if 0 != event.Events&readEvents {
			flags |= flagRead
		}
		if 0 != event.Events&writeEvents {
			flags |= flagWrite
		}
		if 0 != event.Events&unix.EPOLLERR {
			flags |= flagError
		}
		if 0 != event.Events&hupEvents {
			flags |= flagHup
		}

		ev.ready = append(ev.ready, Event{tok: token.Token(event.Fd), flags: flags})
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

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(ev.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// WakeFd returns the descriptor that turns readable once Wake is called. It
// stays readable until the next Wait.
func (ev *NetPoller) WakeFd() int { return ev.wakefd }

func (ev *NetPoller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(ev.wakefd, buf[:])
}

func (ev *NetPoller) Close() error {
	ev.mux.Lock()
	defer ev.mux.Unlock()

	if ev.closed {
		return nil
	}
	ev.closed = true

	return multierr.Append(
		os.NewSyscallError("close", unix.Close(ev.wakefd)),
		os.NewSyscallError("close", unix.Close(ev.epfd)),
	)
}
