//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/urpc/echoloop/internal/token"
)

func newSocketPair(t *testing.T) (int, int) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newPoller(t *testing.T) *NetPoller {
	t.Helper()

	p, err := NewNetPoller(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// waitFor polls until an event for tok shows up or the deadline passes.
func waitFor(t *testing.T, p *NetPoller, tok token.Token) (Event, bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, err := p.Wait(50)
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Token() == tok {
				return ev, true
			}
		}
	}
	return Event{}, false
}

func TestNetPoller_Readable(t *testing.T) {
	p := newPoller(t)
	local, remote := newSocketPair(t)

	require.NoError(t, p.Register(local, 7, Readable))

	_, err := unix.Write(remote, []byte("ping"))
	require.NoError(t, err)

	ev, ok := waitFor(t, p, 7)
	require.True(t, ok)
	assert.True(t, ev.Readable())
	assert.False(t, ev.Writable())
}

func TestNetPoller_TokenIsNotFd(t *testing.T) {
	p := newPoller(t)
	local, remote := newSocketPair(t)

	tok := token.Token(local + 1000)
	require.NoError(t, p.Register(local, tok, Readable))

	_, err := unix.Write(remote, []byte("x"))
	require.NoError(t, err)

	_, ok := waitFor(t, p, tok)
	assert.True(t, ok)
}

func TestNetPoller_Reregister(t *testing.T) {
	p := newPoller(t)
	local, _ := newSocketPair(t)

	require.NoError(t, p.Register(local, 1, Readable))
	require.NoError(t, p.Reregister(local, 2, Writable))

	ev, ok := waitFor(t, p, 2)
	require.True(t, ok)
	assert.True(t, ev.Writable())
}

func TestNetPoller_Deregister(t *testing.T) {
	p := newPoller(t)
	local, remote := newSocketPair(t)

	require.NoError(t, p.Register(local, 3, Readable))
	require.NoError(t, p.Deregister(local))

	_, err := unix.Write(remote, []byte("ignored"))
	require.NoError(t, err)

	events, err := p.Wait(100)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNetPoller_Hangup(t *testing.T) {
	p := newPoller(t)
	local, remote := newSocketPair(t)

	require.NoError(t, p.Register(local, 4, Readable))
	require.NoError(t, unix.Shutdown(remote, unix.SHUT_WR))

	ev, ok := waitFor(t, p, 4)
	require.True(t, ok)
	assert.True(t, ev.Readable())
	assert.True(t, ev.Hangup())
}

func TestNetPoller_Wake(t *testing.T) {
	p := newPoller(t)

	done := make(chan error, 1)
	go func() {
		events, err := p.Wait(-1)
		if nil == err && len(events) != 0 {
			t.Errorf("unexpected events: %v", events)
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Wake())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait was not woken")
	}
}

func TestNetPoller_WakeFd(t *testing.T) {
	p := newPoller(t)

	readable := func() bool {
		fds := []unix.PollFd{{Fd: int32(p.WakeFd()), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		require.NoError(t, err)
		return n > 0
	}

	assert.False(t, readable())
	require.NoError(t, p.Wake())
	assert.True(t, readable())

	// Wait consumes the wakeup.
	events, err := p.Wait(0)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, readable())
}

func TestNetPoller_Close(t *testing.T) {
	p, err := NewNetPoller(0)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.ErrorIs(t, p.Wake(), ErrClosed)
}
