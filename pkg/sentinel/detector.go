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

// Package sentinel watches a port that nothing should be talking to. A
// Detector binds UDP and TCP on the port, records who tries to reach it and
// reports each distinct sender once. It never blocks and owns no loop; the
// host calls Process periodically.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/portsentinel/pkg/lifecycle"
	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
)

// Detector is not safe for concurrent use; Process and the accessors must be
// called from one goroutine at a time.
type Detector struct {
	addr netip.Addr
	port uint16

	logger        logger.Logger
	binder        Binder
	meterProvider metric.MeterProvider
	metrics       *detectorMetrics
	bufferSize    int

	ioctx *ioContext
	udp   *udpReceiver
	tcp   *tcpAcceptor

	udpOpened bool
	tcpOpened bool

	known       map[models.ConnectionAttempt]struct{}
	attempts    []models.ConnectionAttempt
	newAttempts []models.ConnectionAttempt

	closeOnce sync.Once
	closeErr  error
}

// NewDetector binds the sentinel on iface:port. A malformed iface is the only
// error; a protocol whose socket cannot be bound is logged and left inert.
func NewDetector(port uint16, iface string, opts ...Option) (*Detector, error) {
	addr, err := netip.ParseAddr(iface)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidInterface, iface, err)
	}

	d := &Detector{
		addr:       addr.Unmap(),
		port:       port,
		binder:     NewNetBinder(),
		bufferSize: defaultBufferSize,
		known:      make(map[models.ConnectionAttempt]struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = defaultLogger()
	}

	d.metrics = newDetectorMetrics(d.meterProvider)
	d.ioctx = newIOContext(defaultQueueDepth)

	d.logger.Info().
		Str("address", d.addr.String()).
		Uint16("port", port).
		Msgf("Creating connection warning sentinel on %s port %d", d.addr, port)

	ctx := context.Background()
	bindAddr := netip.AddrPortFrom(d.addr, port)

	d.initUDP(ctx, bindAddr)
	d.initTCP(ctx, bindAddr)

	return d, nil
}

func defaultLogger() logger.Logger {
	log, err := lifecycle.CreateComponentLogger("sentinel", nil)
	if err != nil {
		// LOG_LEVEL held something unparsable
		log, _ = lifecycle.CreateComponentLogger("sentinel", &logger.Config{Level: "info"})
	}

	return log
}

func (d *Detector) initUDP(ctx context.Context, bindAddr netip.AddrPort) {
	conn, err := d.binder.ListenPacket(ctx, udpNetwork(d.addr), bindAddr)
	if err != nil {
		d.displayError("binding UDP socket to port", err)
		d.metrics.recordBindFailure(models.ProtocolUDP)

		return
	}

	d.udpOpened = true
	d.udp = newUDPReceiver(conn, d.bufferSize, d.ioctx, d.receiveUDP)
	d.udp.arm()
}

func (d *Detector) initTCP(ctx context.Context, bindAddr netip.AddrPort) {
	ln, err := d.binder.Listen(ctx, tcpNetwork(d.addr), bindAddr)
	if err != nil {
		d.displayError("binding the TCP acceptor", err)
		d.metrics.recordBindFailure(models.ProtocolTCP)

		return
	}

	d.tcpOpened = true
	d.tcp = newTCPAcceptor(ln, d.ioctx, d.acceptTCP)
	d.tcp.arm()
}

// Process runs every I/O completion that is ready and returns true if at
// least one sender was seen for the first time during this call.
func (d *Detector) Process() bool {
	d.attempts = d.attempts[:0]
	d.newAttempts = d.newAttempts[:0]

	if _, err := d.ioctx.poll(); err != nil {
		if errors.Is(err, errContextClosed) {
			d.logger.Debug().Msg("Process called on a closed sentinel")
			return false
		}

		d.displayError("trying to poll the completion context", err)
		d.metrics.recordPollError()
	}

	return len(d.newAttempts) > 0
}

func (d *Detector) receiveUDP(remote net.Addr) {
	ap, ok := addrPortOf(remote)
	if !ok {
		d.logger.Debug().Err(errNoRemoteAddress).Msg("Dropping UDP completion")
		return
	}

	d.logAttempt(models.AttemptFromAddrPort(models.ProtocolUDP, ap))
}

func (d *Detector) acceptTCP(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	if ap, ok := addrPortOf(conn.RemoteAddr()); ok {
		d.logAttempt(models.AttemptFromAddrPort(models.ProtocolTCP, ap))
	} else {
		d.logger.Debug().Err(errNoRemoteAddress).Msg("Dropping TCP completion")
	}

	if err := shutdownBoth(conn); err != nil {
		d.displayError("shutting down TCP socket", err)
	}
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// shutdownBoth closes both directions without reading or writing anything.
func shutdownBoth(conn net.Conn) error {
	hc, ok := conn.(halfCloser)
	if !ok {
		return nil
	}

	return errors.Join(hc.CloseRead(), hc.CloseWrite())
}

func (d *Detector) logAttempt(attempt models.ConnectionAttempt) {
	d.attempts = append(d.attempts, attempt)

	_, seen := d.known[attempt]
	d.metrics.recordAttempt(attempt, !seen)

	if seen {
		return
	}

	d.logger.Info().
		Str("protocol", attempt.Protocol.String()).
		Str("address", attempt.Address).
		Uint16("remote_port", attempt.Port).
		Msg("Got a new attempt to connect over " + attempt.String())

	d.newAttempts = append(d.newAttempts, attempt)
	d.known[attempt] = struct{}{}
}

func (d *Detector) displayError(operation string, err error) {
	d.logger.Error().
		Err(err).
		Str("operation", operation).
		Msg("Error when " + operation)
}

// Close releases both sockets and stops all outstanding operations.
// Process keeps returning false afterwards.
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		d.ioctx.close()

		var errs []error

		if d.udp != nil {
			errs = append(errs, d.udp.close())
		}

		if d.tcp != nil {
			errs = append(errs, d.tcp.close())
		}

		d.ioctx.wait()
		d.closeErr = errors.Join(errs...)
	})

	return d.closeErr
}

// UDPOpened reports whether the UDP socket was bound.
func (d *Detector) UDPOpened() bool { return d.udpOpened }

// TCPOpened reports whether the TCP listener was bound.
func (d *Detector) TCPOpened() bool { return d.tcpOpened }

// Addr is the parsed interface address the sentinel bound to.
func (d *Detector) Addr() netip.Addr { return d.addr }

// Port is the configured sentinel port.
func (d *Detector) Port() uint16 { return d.port }

// LocalUDPAddr is the bound UDP endpoint, or the zero value if UDP is inert.
func (d *Detector) LocalUDPAddr() netip.AddrPort {
	if d.udp == nil {
		return netip.AddrPort{}
	}

	ap, _ := addrPortOf(d.udp.conn.LocalAddr())

	return ap
}

// LocalTCPAddr is the bound TCP endpoint, or the zero value if TCP is inert.
func (d *Detector) LocalTCPAddr() netip.AddrPort {
	if d.tcp == nil {
		return netip.AddrPort{}
	}

	ap, _ := addrPortOf(d.tcp.ln.Addr())

	return ap
}

// Attempts returns every attempt recorded during the last Process call,
// repeats included, in completion order.
func (d *Detector) Attempts() []models.ConnectionAttempt {
	return append([]models.ConnectionAttempt(nil), d.attempts...)
}

// NewAttempts returns the attempts first seen during the last Process call.
func (d *Detector) NewAttempts() []models.ConnectionAttempt {
	return append([]models.ConnectionAttempt(nil), d.newAttempts...)
}

// Known reports whether attempt has been seen since construction.
func (d *Detector) Known(attempt models.ConnectionAttempt) bool {
	_, ok := d.known[attempt]
	return ok
}

// KnownCount is the number of distinct senders seen since construction.
func (d *Detector) KnownCount() int {
	return len(d.known)
}
