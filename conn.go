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
	"net"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/urpc/echoloop/internal/bytebuf"
	"github.com/urpc/echoloop/internal/token"
)

// conn is one entry of the connection table. It owns its socket.
type conn struct {
	fd         int           // connection fd
	token      token.Token   // poller registration and table key
	localAddr  net.Addr      // local address
	remoteAddr net.Addr      // peer address captured at accept
	outbound   bytebuf.Queue // echo bytes the socket has not taken yet
	closed     bool          // torn down
}

func (c *conn) Token() Token         { return c.token }
func (c *conn) LocalAddr() net.Addr  { return c.localAddr }
func (c *conn) RemoteAddr() net.Addr { return c.remoteAddr }

// closeConn is the single teardown path. Deregistering, closing the socket,
// freeing the token and dropping the table entry happen together, once.
func (el *eventLoop) closeConn(c *conn, reason error) {
	if c.closed {
		return
	}
	c.closed = true

	err := multierr.Append(
		el.poller.Deregister(c.fd),
		os.NewSyscallError("close", unix.Close(c.fd)),
	)
	el.tokens.Free(c.token)
	el.conns.Delete(c.token)
	c.outbound.Reset()

	fields := []zap.Field{zap.Stringer("peer", c.remoteAddr), zap.Int("token", int(c.token))}
	switch {
	case errors.Is(reason, io.EOF):
		el.logger.Info("client closed connection", fields...)
	case errors.Is(reason, ErrServerClosed):
		el.logger.Info("connection closed by server", fields...)
	default:
		el.logger.Warn("connection failed", append(fields, zap.Error(reason))...)
	}

	if nil != err {
		el.logger.Debug("teardown incomplete", append(fields, zap.Error(err))...)
	}

	// fire on-close event.
	if nil != el.server.OnClose {
		el.server.OnClose(c, reason)
	}
}
