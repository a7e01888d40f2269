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
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/urpc/echoloop/internal/poller"
	"github.com/urpc/echoloop/internal/socket"
)

// acceptBackoff pauses the loop after a failed accept. The listener stays
// readable while the error lasts (EMFILE, ENFILE, ENOBUFS), so retrying at
// once would spin.
const acceptBackoff = 10 * time.Millisecond

// accept drains the listen queue. Taking every pending connection per event
// keeps a burst of arrivals from waiting for further poll rounds.
func (el *eventLoop) accept() {
	for {
		nfd, sa, err := socket.Accept(el.listener.Fd)
		if nil != err {
			switch {
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			case errors.Is(err, unix.EAGAIN):
				return
			default:
				// the listener stays readable; the next poll retries.
				el.logger.Error("accept failed", zap.Stringer("addr", el.listener.Addr), zap.Error(err))
				time.Sleep(acceptBackoff)
				return
			}
		}

		el.openConn(nfd, socket.SockaddrToAddr(sa))
	}
}

func (el *eventLoop) openConn(fd int, remoteAddr net.Addr) {
	c := &conn{
		fd:         fd,
		localAddr:  el.listener.Addr,
		remoteAddr: remoteAddr,
	}

	if sa, err := unix.Getsockname(fd); nil == err {
		if addr := socket.SockaddrToAddr(sa); nil != addr {
			c.localAddr = addr
		}
	}

	el.applyOptions(c)

	c.token = el.tokens.Allocate()
	if err := el.poller.Register(fd, c.token, poller.Readable); nil != err {
		el.tokens.Free(c.token)
		_ = unix.Close(fd)
		el.logger.Error("register connection failed", zap.Stringer("peer", remoteAddr), zap.Error(err))
		return
	}
	el.conns.Put(c.token, c)

	el.logger.Info("accepted connection", zap.Stringer("peer", remoteAddr), zap.Int("token", int(c.token)))

	// fire on-open event.
	if nil != el.server.OnOpen {
		el.server.OnOpen(c)
	}
}

func (el *eventLoop) applyOptions(c *conn) {
	if el.server.NoDelay {
		if err := socket.SetNoDelay(c.fd, true); nil != err {
			el.logger.Warn("set nodelay failed", zap.Stringer("peer", c.remoteAddr), zap.Error(err))
		}
	}

	if el.server.KeepAlive {
		if err := socket.SetKeepAlive(c.fd, true); nil != err {
			el.logger.Warn("set keepalive failed", zap.Stringer("peer", c.remoteAddr), zap.Error(err))
		}
	}
}
