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
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// listenerState tracks a socket's loop as seen from the polling goroutine.
// idle -> armed when the loop starts, armed -> completing while a completion
// runs, completing -> armed when it returns. closed is terminal and only
// reached once the socket itself is gone.
type listenerState int32

const (
	listenerIdle listenerState = iota
	listenerArmed
	listenerCompleting
	listenerClosed
)

func (s listenerState) String() string {
	switch s {
	case listenerIdle:
		return "idle"
	case listenerArmed:
		return "armed"
	case listenerCompleting:
		return "completing"
	case listenerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateMachine struct {
	v atomic.Int32
}

func (s *stateMachine) load() listenerState {
	return listenerState(s.v.Load())
}

// transition moves from -> to and reports whether it happened.
func (s *stateMachine) transition(from, to listenerState) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}

func (s *stateMachine) set(to listenerState) {
	s.v.Store(int32(to))
}

// udpReceiver runs one receive loop on the sentinel's UDP socket. The loop
// reads ahead of the poller: every datagram the kernel has queued becomes a
// completion as soon as it is read, so a single poll sees the whole backlog.
type udpReceiver struct {
	conn  net.PacketConn
	buf   []byte
	ioctx *ioContext
	state stateMachine

	// handle runs on the polling goroutine with the sender of a datagram.
	handle func(remote net.Addr)
}

func newUDPReceiver(conn net.PacketConn, bufSize int, ioctx *ioContext, handle func(net.Addr)) *udpReceiver {
	return &udpReceiver{
		conn:   conn,
		buf:    make([]byte, bufSize),
		ioctx:  ioctx,
		handle: handle,
	}
}

// arm starts the receive loop. Arming twice is a no-op.
func (r *udpReceiver) arm() {
	if !r.state.transition(listenerIdle, listenerArmed) {
		return
	}

	if !r.ioctx.start(r.receiveLoop) {
		r.state.set(listenerClosed)
	}
}

func (r *udpReceiver) receiveLoop() {
	var delay retryDelay

	for {
		// only the sender is used, so the buffer can be reused before the
		// completion runs
		_, remote, err := r.conn.ReadFrom(r.buf)
		if !r.ioctx.post(func() { r.complete(remote, err) }) || errors.Is(err, net.ErrClosed) {
			return
		}

		if err == nil || isMessageTooLarge(err) {
			delay.reset()
			continue
		}

		if !r.ioctx.sleep(delay.next()) {
			return
		}
	}
}

func (r *udpReceiver) complete(remote net.Addr, err error) {
	if !r.state.transition(listenerArmed, listenerCompleting) {
		return
	}

	if errors.Is(err, net.ErrClosed) {
		r.state.set(listenerClosed)
		return
	}

	defer r.state.transition(listenerCompleting, listenerArmed)

	// an oversized datagram still tells us who sent it
	if err == nil || isMessageTooLarge(err) {
		r.handle(remote)
	}
}

func (r *udpReceiver) close() error {
	r.state.set(listenerClosed)

	return r.conn.Close()
}

// tcpAcceptor runs one accept loop on the sentinel's listener. Accepted
// connections wait in the completion queue until the next poll.
type tcpAcceptor struct {
	ln    net.Listener
	ioctx *ioContext
	state stateMachine

	// handle runs on the polling goroutine and owns conn.
	handle func(conn net.Conn)
}

func newTCPAcceptor(ln net.Listener, ioctx *ioContext, handle func(net.Conn)) *tcpAcceptor {
	return &tcpAcceptor{
		ln:     ln,
		ioctx:  ioctx,
		handle: handle,
	}
}

func (a *tcpAcceptor) arm() {
	if !a.state.transition(listenerIdle, listenerArmed) {
		return
	}

	if !a.ioctx.start(a.acceptLoop) {
		a.state.set(listenerClosed)
	}
}

func (a *tcpAcceptor) acceptLoop() {
	var delay retryDelay

	for {
		conn, err := a.ln.Accept()
		if !a.ioctx.post(func() { a.complete(conn, err) }) {
			if conn != nil {
				_ = conn.Close()
			}

			return
		}

		if errors.Is(err, net.ErrClosed) {
			return
		}

		if err == nil {
			delay.reset()
			continue
		}

		if !a.ioctx.sleep(delay.next()) {
			return
		}
	}
}

func (a *tcpAcceptor) complete(conn net.Conn, err error) {
	if !a.state.transition(listenerArmed, listenerCompleting) {
		if conn != nil {
			_ = conn.Close()
		}

		return
	}

	if errors.Is(err, net.ErrClosed) {
		a.state.set(listenerClosed)
		return
	}

	defer a.state.transition(listenerCompleting, listenerArmed)

	if err == nil {
		a.handle(conn)
	}
}

func (a *tcpAcceptor) close() error {
	a.state.set(listenerClosed)

	return a.ln.Close()
}

const (
	minRetryDelay = 5 * time.Millisecond
	maxRetryDelay = time.Second
)

// retryDelay spaces out reads after an error so a socket stuck in a failing
// state cannot spin a loop.
type retryDelay struct {
	d time.Duration
}

func (r *retryDelay) next() time.Duration {
	switch {
	case r.d == 0:
		r.d = minRetryDelay
	case r.d < maxRetryDelay:
		r.d = min(2*r.d, maxRetryDelay)
	}

	return r.d
}

func (r *retryDelay) reset() {
	r.d = 0
}
