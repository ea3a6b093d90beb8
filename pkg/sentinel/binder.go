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
	"context"
	"net"
	"net/netip"
)

// Binder opens the sockets a Detector listens on. The default binder applies
// the do-not-route and reuse-address options before binding.
type Binder interface {
	ListenPacket(ctx context.Context, network string, addr netip.AddrPort) (net.PacketConn, error)
	Listen(ctx context.Context, network string, addr netip.AddrPort) (net.Listener, error)
}

type netBinder struct {
	lc net.ListenConfig
}

// NewNetBinder returns the Binder backed by the operating system's sockets.
func NewNetBinder() Binder {
	return &netBinder{lc: net.ListenConfig{Control: controlSocket}}
}

func (b *netBinder) ListenPacket(ctx context.Context, network string, addr netip.AddrPort) (net.PacketConn, error) {
	return b.lc.ListenPacket(ctx, network, addr.String())
}

func (b *netBinder) Listen(ctx context.Context, network string, addr netip.AddrPort) (net.Listener, error) {
	return b.lc.Listen(ctx, network, addr.String())
}

func udpNetwork(addr netip.Addr) string {
	if addr.Is4() {
		return "udp4"
	}

	return "udp6"
}

func tcpNetwork(addr netip.Addr) string {
	if addr.Is4() {
		return "tcp4"
	}

	return "tcp6"
}

// addrPortOf converts an endpoint reported by a socket into an AddrPort.
func addrPortOf(addr net.Addr) (netip.AddrPort, bool) {
	switch a := addr.(type) {
	case nil:
		return netip.AddrPort{}, false
	case *net.UDPAddr:
		if a == nil {
			return netip.AddrPort{}, false
		}

		ap := a.AddrPort()

		return ap, ap.IsValid()
	case *net.TCPAddr:
		if a == nil {
			return netip.AddrPort{}, false
		}

		ap := a.AddrPort()

		return ap, ap.IsValid()
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, false
		}

		return ap, true
	}
}
