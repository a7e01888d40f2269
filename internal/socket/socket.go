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

package socket

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/libp2p/go-reuseport"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// ErrUnsupportedNetwork is returned by Listen for schemes other than tcp.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// Listener is a non-blocking listening socket ready to be polled.
type Listener struct {
	Fd   int          // non-blocking listen fd
	Addr net.Addr     // bound address
	ln   net.Listener // owner of the original fd
	file *os.File     // owner of Fd
}

// Listen binds addr, a host:port optionally prefixed with tcp://, tcp4:// or
// tcp6://. The address itself is handed to the bind call untouched.
func Listen(addr string, reusePort bool) (*Listener, error) {

	// default scheme is tcp protocol.
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}

	u, err := url.Parse(addr)
	if nil != err {
		return nil, err
	}

	var l Listener

	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		if reusePort {
			l.ln, err = reuseport.Listen(u.Scheme, u.Host)
		} else {
			l.ln, err = net.Listen(u.Scheme, u.Host)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, u.Scheme)
	}

	if nil != err {
		return nil, err
	}

	l.Addr = l.ln.Addr()

	tcpLn, ok := l.ln.(*net.TCPListener)
	if !ok {
		_ = l.Close()
		return nil, fmt.Errorf("unsupported listener type: %T", l.ln)
	}

	if l.file, err = tcpLn.File(); nil != err {
		_ = l.Close()
		return nil, err
	}

	l.Fd = int(l.file.Fd())
	if err = unix.SetNonblock(l.Fd, true); nil != err {
		_ = l.Close()
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return &l, nil
}

// Close releases both the polled fd and the listener that created it.
func (l *Listener) Close() error {
	var err error
	if nil != l.file {
		err = multierr.Append(err, l.file.Close())
		l.file = nil
	}
	if nil != l.ln {
		err = multierr.Append(err, l.ln.Close())
		l.ln = nil
	}
	l.Fd = -1
	return err
}

// SockaddrToAddr returns a go/net friendly address
func SockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   append([]byte{}, sa.Addr[:]...), // copy
			Port: sa.Port,
		}
	case *unix.SockaddrInet6:
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{
			IP:   append([]byte{}, sa.Addr[:]...), // copy
			Port: sa.Port,
			Zone: zone,
		}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Net: "unix", Name: sa.Name}
	}
	return nil
}

// SetNoDelay toggles Nagle's algorithm.
func SetNoDelay(fd int, nodelay bool) error {
	var op = 0
	if nodelay {
		op = 1
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, op))
}

func SetKeepAlive(fd int, keepalive bool) error {
	var op = 0
	if keepalive {
		op = 1
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, op))
}

// WaitWritable blocks the calling thread until fd can accept more data,
// reports an error condition, or wakefd turns readable. woken reports the
// latter; wakefd is left unread.
func WaitWritable(fd int, wakefd int) (woken bool, err error) {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLOUT},
		{Fd: int32(wakefd), Events: unix.POLLIN},
	}
	for {
		_, err = unix.Poll(fds, -1)
		switch {
		case nil == err:
			return 0 != fds[1].Revents&unix.POLLIN, nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return false, os.NewSyscallError("poll", err)
		}
	}
}
