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

package echoloop

import (
	"errors"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/urpc/echoloop/internal/poller"
	"github.com/urpc/echoloop/internal/socket"
)

// onReadable reads once into the scratch buffer and echoes what arrived.
func (el *eventLoop) onReadable(c *conn) {
	n, err := unix.Read(c.fd, el.buffer)
	switch {
	case nil != err && (errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)):
		// spurious wakeup, nothing to read yet.
		return
	case nil != err:
		el.closeConn(c, os.NewSyscallError("read", err))
		return
	case 0 == n:
		// remote closed
		el.closeConn(c, io.EOF)
		return
	}

	if ce := el.logger.Check(zap.DebugLevel, "read from client"); nil != ce {
		ce.Write(zap.Stringer("peer", c.remoteAddr), zap.Int("token", int(c.token)), zap.Int("bytes", n))
	}

	if WriteBuffered == el.server.WriteMode {
		el.echoBuffered(c, el.buffer[:n])
	} else {
		el.echoSync(c, el.buffer[:n])
	}
}

// echoSync writes data in full before returning. When the send buffer is
// full it blocks on this one socket, stalling every other connection until
// the peer drains it or the server is closed.
func (el *eventLoop) echoSync(c *conn, data []byte) {
	for len(data) > 0 {
		n, err := unix.Write(c.fd, data)
		if nil != err {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				if ce := el.logger.Check(zap.DebugLevel, "send buffer full"); nil != ce {
					ce.Write(zap.Stringer("peer", c.remoteAddr), zap.Int("token", int(c.token)), zap.Int("pending", len(data)))
				}

				var woken bool
				if woken, err = socket.WaitWritable(c.fd, el.poller.WakeFd()); nil != err {
					el.closeConn(c, err)
					return
				}
				// only Close wakes the poller.
				if woken && el.server.closed.Load() {
					el.closeConn(c, ErrServerClosed)
					return
				}
				continue
			default:
				el.closeConn(c, os.NewSyscallError("write", err))
				return
			}
		}
		data = data[n:]
	}
}

// echoBuffered writes what the socket takes now and queues the rest. A
// connection with queued bytes listens for write readiness only, so the next
// read happens after the whole echo has gone out.
func (el *eventLoop) echoBuffered(c *conn, data []byte) {
	n, err := unix.Write(c.fd, data)
	if nil != err {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			el.closeConn(c, os.NewSyscallError("write", err))
			return
		}
		n = 0
	}

	if n == len(data) {
		return
	}

	if ce := el.logger.Check(zap.DebugLevel, "short write, queued remainder"); nil != ce {
		ce.Write(zap.Stringer("peer", c.remoteAddr), zap.Int("token", int(c.token)), zap.Int("pending", len(data)-n))
	}

	_, _ = c.outbound.Write(data[n:])
	if err = el.poller.Reregister(c.fd, c.token, poller.Writable); nil != err {
		el.closeConn(c, err)
	}
}

// flush writes queued bytes on write readiness and restores read interest
// once the queue is empty.
func (el *eventLoop) flush(c *conn) {
	for !c.outbound.Empty() {
		el.iov = c.outbound.PeekVec(el.iov[:0])
		if len(el.iov) > maxIovec {
			el.iov = el.iov[:maxIovec]
		}

		sent, err := socket.Writev(c.fd, el.iov)
		clear(el.iov)
		if nil != err {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				return
			default:
				el.closeConn(c, os.NewSyscallError("writev", err))
				return
			}
		}

		// commit read offset.
		c.outbound.Discard(sent)
	}

	if err := el.poller.Reregister(c.fd, c.token, poller.Readable); nil != err {
		el.closeConn(c, err)
	}
}
