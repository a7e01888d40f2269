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
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/urpc/echoloop/internal/poller"
	"github.com/urpc/echoloop/internal/socket"
	"github.com/urpc/echoloop/internal/token"
	"github.com/urpc/echoloop/internal/tokenmap"
)

// maxIovec bounds the vector handed to a single writev.
const maxIovec = 64

// eventLoop is the reactor. Everything except poller.Wake is touched only
// from the goroutine running run.
type eventLoop struct {
	server    *Server
	logger    *zap.Logger
	poller    *poller.NetPoller
	listener  *socket.Listener
	listenTok token.Token         // token of the listening socket, never in conns
	tokens    *token.Manager      // token lifecycle
	conns     *tokenmap.Map[conn] // connection table
	buffer    []byte              // scratch buffer shared by all reads
	iov       [][]byte            // writev scratch vector
	closeErr  error               // result of releasing listener and poller
}

func newEventLoop(s *Server, listener *socket.Listener) (*eventLoop, error) {
	p, err := poller.NewNetPoller(s.MaxEvents)
	if nil != err {
		return nil, err
	}

	el := &eventLoop{
		server:   s,
		logger:   s.Logger,
		poller:   p,
		listener: listener,
		tokens:   token.NewManager(),
		conns:    tokenmap.NewMap[conn](1024),
		buffer:   make([]byte, s.BufferSize),
		iov:      make([][]byte, 0, maxIovec),
	}

	el.listenTok = el.tokens.Allocate()
	if err = p.Register(listener.Fd, el.listenTok, poller.Readable); nil != err {
		_ = p.Close()
		return nil, err
	}

	return el, nil
}

func (el *eventLoop) run() error {
	defer el.shutdown()

	for !el.server.closed.Load() {
		events, err := el.poller.Wait(-1)
		if nil != err {
			el.logger.Error("poll failed", zap.Error(err))
			return err
		}

		for _, ev := range events {
			if ev.Token() == el.listenTok {
				el.accept()
				continue
			}
			el.dispatch(ev)
		}
	}

	return ErrServerClosed
}

// dispatch routes one client event. Events for tokens no longer in the table
// were queued before their connection was torn down and are dropped.
func (el *eventLoop) dispatch(ev poller.Event) {
	c := el.conns.Get(ev.Token())
	if nil == c {
		return
	}

	if !c.outbound.Empty() {
		if ev.Writable() || ev.Error() || ev.Hangup() {
			el.flush(c)
		}
		// reads wait until the previous echo is fully written.
		if c.closed || !c.outbound.Empty() {
			return
		}
	}

	if ev.Readable() || ev.Error() || ev.Hangup() {
		el.onReadable(c)
	}
}

// shutdown tears down every connection, then releases the listener and the
// poller. The listening registration is the last one to go.
func (el *eventLoop) shutdown() {
	for _, c := range el.conns.Range() {
		el.closeConn(c, ErrServerClosed)
	}

	_ = el.poller.Deregister(el.listener.Fd)
	el.tokens.Free(el.listenTok)

	el.closeErr = multierr.Combine(
		el.listener.Close(),
		el.poller.Close(),
	)

	el.logger.Info("server stopped", zap.Stringer("addr", el.listener.Addr), zap.Error(el.closeErr))
}
