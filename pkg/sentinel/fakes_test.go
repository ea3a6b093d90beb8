/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sentinel

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/portsentinel/pkg/lifecycle"
	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
)

const (
	newAttemptMessage = "Got a new attempt to connect over "

	testWait = 5 * time.Second
	testTick = 5 * time.Millisecond
)

var (
	errFakeBind    = errors.New("address already in use")
	errFakeReceive = errors.New("connection refused")
	errFakeAccept  = errors.New("too many open files")
)

type datagram struct {
	from net.Addr
	err  error
}

type fakePacketConn struct {
	in        chan datagram
	closed    chan struct{}
	closeOnce sync.Once
	local     net.Addr
}

func newFakePacketConn(local netip.AddrPort) *fakePacketConn {
	return &fakePacketConn{
		in:     make(chan datagram, 64),
		closed: make(chan struct{}),
		local:  net.UDPAddrFromAddrPort(local),
	}
}

func (c *fakePacketConn) send(from string) {
	c.in <- datagram{from: net.UDPAddrFromAddrPort(netip.MustParseAddrPort(from))}
}

func (c *fakePacketConn) fail(from net.Addr, err error) {
	c.in <- datagram{from: from, err: err}
}

func (c *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case d := <-c.in:
		return len(p), d.from, d.err
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (*fakePacketConn) WriteTo(p []byte, _ net.Addr) (int, error) { return len(p), nil }
func (c *fakePacketConn) LocalAddr() net.Addr                    { return c.local }
func (*fakePacketConn) SetDeadline(time.Time) error              { return nil }
func (*fakePacketConn) SetReadDeadline(time.Time) error          { return nil }
func (*fakePacketConn) SetWriteDeadline(time.Time) error         { return nil }

func (c *fakePacketConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type acceptResult struct {
	conn net.Conn
	err  error
}

type fakeListener struct {
	in        chan acceptResult
	closed    chan struct{}
	closeOnce sync.Once
	local     net.Addr
}

func newFakeListener(local netip.AddrPort) *fakeListener {
	return &fakeListener{
		in:     make(chan acceptResult, 64),
		closed: make(chan struct{}),
		local:  net.TCPAddrFromAddrPort(local),
	}
}

func (l *fakeListener) connect(from string) *fakeConn {
	conn := &fakeConn{
		remote: net.TCPAddrFromAddrPort(netip.MustParseAddrPort(from)),
		local:  l.local,
	}
	l.in <- acceptResult{conn: conn}

	return conn
}

func (l *fakeListener) fail(err error) {
	l.in <- acceptResult{err: err}
}

func (l *fakeListener) Accept() (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
	}

	select {
	case r := <-l.in:
		return r.conn, r.err
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *fakeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeListener) Addr() net.Addr { return l.local }

// fakeConn records how the detector treats an accepted connection.
type fakeConn struct {
	remote   net.Addr
	local    net.Addr
	writeErr error

	readClosed  atomic.Bool
	writeClosed atomic.Bool
	closed      atomic.Bool
	used        atomic.Bool
}

func (c *fakeConn) Read([]byte) (int, error) {
	c.used.Store(true)
	return 0, net.ErrClosed
}

func (c *fakeConn) Write([]byte) (int, error) {
	c.used.Store(true)
	return 0, net.ErrClosed
}

func (c *fakeConn) CloseRead() error {
	c.readClosed.Store(true)
	return nil
}

func (c *fakeConn) CloseWrite() error {
	c.writeClosed.Store(true)
	return c.writeErr
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr              { return c.local }
func (c *fakeConn) RemoteAddr() net.Addr             { return c.remote }
func (*fakeConn) SetDeadline(time.Time) error        { return nil }
func (*fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (*fakeConn) SetWriteDeadline(time.Time) error   { return nil }

// fakeBinder hands out one fake socket per protocol, or an error.
type fakeBinder struct {
	packet    *fakePacketConn
	listener  *fakeListener
	packetErr error
	listenErr error

	mu    sync.Mutex
	calls []string
}

func newFakeBinder(bind string) *fakeBinder {
	ap := netip.MustParseAddrPort(bind)

	return &fakeBinder{
		packet:   newFakePacketConn(ap),
		listener: newFakeListener(ap),
	}
}

func (b *fakeBinder) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, call)
}

func (b *fakeBinder) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.calls...)
}

func (b *fakeBinder) ListenPacket(_ context.Context, network string, addr netip.AddrPort) (net.PacketConn, error) {
	b.record(network + " " + addr.String())

	if b.packetErr != nil {
		return nil, b.packetErr
	}

	return b.packet, nil
}

func (b *fakeBinder) Listen(_ context.Context, network string, addr netip.AddrPort) (net.Listener, error) {
	b.record(network + " " + addr.String())

	if b.listenErr != nil {
		return nil, b.listenErr
	}

	return b.listener, nil
}

// syncBuffer lets the detector log while the test inspects output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.String()
}

func (s *syncBuffer) count(substr string) int {
	return strings.Count(s.String(), substr)
}

func newCapturingLogger(t *testing.T) (logger.Logger, *syncBuffer) {
	t.Helper()

	out := &syncBuffer{}

	log, err := lifecycle.CreateComponentLoggerWithWriter("sentinel", out, &logger.Config{Level: "debug"})
	require.NoError(t, err)

	return log, out
}

type pollResult struct {
	all   []models.ConnectionAttempt
	fresh []models.ConnectionAttempt
	polls int
	trues int
}

// pollFor calls Process until at least want attempts have been recorded in
// total, checking the Process contract on every call.
func pollFor(t *testing.T, d *Detector, want int) pollResult {
	t.Helper()

	var res pollResult

	deadline := time.Now().Add(testWait)

	for len(res.all) < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d attempts, got %d: %v", want, len(res.all), res.all)
		}

		got := d.Process()
		res.polls++

		fresh := d.NewAttempts()
		require.Equal(t, len(fresh) > 0, got, "Process result must match NewAttempts")

		if got {
			res.trues++
		}

		res.all = append(res.all, d.Attempts()...)
		res.fresh = append(res.fresh, fresh...)

		if len(res.all) < want {
			time.Sleep(time.Millisecond)
		}
	}

	return res
}

// waitQueued blocks until the socket loops have turned n results into
// completions, without running any of them.
func waitQueued(t *testing.T, d *Detector, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(d.ioctx.queue) >= n
	}, testWait, testTick, "socket loops did not queue %d completions", n)
}
