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

// Package echoloop is a single-threaded, readiness-driven TCP echo server.
//
// One goroutine owns the listening socket, the poller, the token manager and
// the connection table. Every registration with the poller is tagged with a
// small integer token, and tokens are recycled as connections come and go.
package echoloop

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/urpc/echoloop/internal/poller"
	"github.com/urpc/echoloop/internal/socket"
	"github.com/urpc/echoloop/internal/token"
)

// DefaultBufferSize is the scratch buffer size used for each read. The value
// is arbitrary; it caps how many bytes one readiness event moves and is not
// part of the protocol.
const DefaultBufferSize = 160

// DefaultMaxEvents is the number of readiness events fetched per poll.
const DefaultMaxEvents = 128

var (
	// ErrServerClosed is returned by Serve after Close, and passed to OnClose
	// for connections torn down by Close.
	ErrServerClosed = errors.New("echoloop: server closed")

	// ErrUnsupportedNetwork is returned by Serve for non-tcp address schemes.
	ErrUnsupportedNetwork = socket.ErrUnsupportedNetwork

	errServerStarted = errors.New("echoloop: server already started")
)

// Token identifies a poller registration. A token is only meaningful while its
// connection is open; afterwards it may be handed to another connection.
type Token = token.Token

// Conn is the read-only view of a connection passed to hooks.
type Conn interface {
	// Token is the connection's current token.
	Token() Token

	// LocalAddr is the connection's local socket address.
	LocalAddr() net.Addr

	// RemoteAddr is the peer address captured at accept time.
	RemoteAddr() net.Addr
}

// WriteMode selects how an echo that the socket cannot take at once is handled.
type WriteMode int

const (
	// WriteSync keeps writing until every byte is sent, waiting on the one
	// socket when its send buffer is full. While it waits no other connection
	// is served.
	WriteSync WriteMode = iota

	// WriteBuffered queues what the socket refused and switches the
	// connection to write interest. Reading resumes once the queue drains.
	WriteBuffered
)

func (m WriteMode) String() string {
	switch m {
	case WriteSync:
		return "sync"
	case WriteBuffered:
		return "buffered"
	}
	return fmt.Sprintf("WriteMode(%d)", int(m))
}

func (m WriteMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *WriteMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "sync":
		*m = WriteSync
	case "buffered":
		*m = WriteBuffered
	default:
		return fmt.Errorf("unknown write mode %q", text)
	}
	return nil
}

type Server struct {
	mux    sync.Mutex    // guards loop during start and close
	loop   *eventLoop    // serving loop, nil until Serve
	done   chan struct{} // closed when the loop has exited
	closed atomic.Bool   // set by Close

	// Addr is the host:port to listen on. It may carry a tcp://, tcp4:// or
	// tcp6:// prefix; the default scheme is tcp.
	Addr string

	// ReusePort indicates whether to set up the SO_REUSEPORT socket option.
	// The default value is false.
	ReusePort bool

	// LockOSThread pins the serving goroutine to its OS thread for the
	// lifetime of Serve.
	// The default value is false.
	LockOSThread bool

	// BufferSize is the maximum number of bytes read from a connection per
	// readable event.
	// The default value is DefaultBufferSize.
	BufferSize int

	// MaxEvents is the number of readiness events fetched per poll.
	// The default value is DefaultMaxEvents.
	MaxEvents int

	// WriteMode selects the strategy for echoes that do not fit the socket's
	// send buffer.
	// The default value is WriteSync.
	WriteMode WriteMode

	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool

	// KeepAlive enables TCP keep-alive probes on accepted connections.
	KeepAlive bool

	// Logger receives accept, close and error diagnostics.
	// The default is a no-op logger.
	Logger *zap.Logger

	// OnStart fires once the listener is bound, before the first poll.
	OnStart func(s *Server)

	// OnOpen fires when a new connection has been registered.
	OnOpen func(c Conn)

	// OnClose fires after a connection has been torn down. err is io.EOF for
	// an orderly shutdown by the peer.
	OnClose func(c Conn, err error)
}

// Serve binds Addr and runs the event loop on the calling goroutine until
// Close is called. Setup failures are returned before any connection is
// accepted. After Close, Serve returns ErrServerClosed.
func (s *Server) Serve() error {
	if s.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	loop, err := s.start()
	if nil != err {
		return err
	}
	defer close(s.done)

	// trigger OnStart event.
	if nil != s.OnStart {
		s.OnStart(s)
	}

	return loop.run()
}

// ListenAddr returns the bound address, or nil before Serve has bound it.
func (s *Server) ListenAddr() net.Addr {
	s.mux.Lock()
	defer s.mux.Unlock()

	if nil == s.loop {
		return nil
	}
	return s.loop.listener.Addr
}

// Close stops the event loop, tears down every open connection and releases
// the listener and the poller. It waits for Serve to finish. Calling Close
// more than once is a no-op.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mux.Lock()
	loop := s.loop
	s.mux.Unlock()

	if nil == loop {
		return nil
	}

	if err := loop.poller.Wake(); nil != err && !errors.Is(err, poller.ErrClosed) {
		return err
	}

	// waiting for the event loop to exit.
	<-s.done
	return loop.closeErr
}

func (s *Server) start() (*eventLoop, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	if nil != s.loop {
		return nil, errServerStarted
	}

	s.initConfig()

	listener, err := socket.Listen(s.Addr, s.ReusePort)
	if nil != err {
		return nil, fmt.Errorf("listen %s: %w", s.Addr, err)
	}

	loop, err := newEventLoop(s, listener)
	if nil != err {
		_ = listener.Close()
		return nil, err
	}

	s.Logger.Info("listening",
		zap.Stringer("addr", listener.Addr),
		zap.Stringer("write_mode", s.WriteMode),
		zap.Int("buffer_size", s.BufferSize),
	)

	s.loop = loop
	s.done = make(chan struct{})
	return loop, nil
}

func (s *Server) initConfig() {
	if s.BufferSize <= 0 {
		s.BufferSize = DefaultBufferSize
	}

	if s.MaxEvents <= 0 {
		s.MaxEvents = DefaultMaxEvents
	}

	if nil == s.Logger {
		s.Logger = zap.NewNop()
	}
}
