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

package models

import (
	"fmt"
	"net/netip"
	"time"
)

// Protocol identifies the transport an attempt arrived on.
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// MarshalText encodes the protocol by name so events and logs carry "TCP"/"UDP".
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ConnectionAttempt describes one observed sender. It is comparable and is used
// directly as a set key; two attempts are the same iff all fields are equal.
type ConnectionAttempt struct {
	Protocol Protocol `json:"protocol"`
	Port     uint16   `json:"port"`
	// Address is empty when the attempt came from a loopback address.
	Address string `json:"address,omitempty"`
}

// AttemptFromAddrPort builds an attempt from a remote endpoint, blanking the
// address for loopback origins.
func AttemptFromAddrPort(proto Protocol, remote netip.AddrPort) ConnectionAttempt {
	attempt := ConnectionAttempt{
		Protocol: proto,
		Port:     remote.Port(),
	}

	addr := remote.Addr().Unmap()
	if !addr.IsLoopback() {
		attempt.Address = addr.String()
	}

	return attempt
}

// IsLocal reports whether the attempt originated on this machine.
func (a ConnectionAttempt) IsLocal() bool {
	return a.Address == ""
}

// Origin renders the human-readable source of the attempt.
func (a ConnectionAttempt) Origin() string {
	if a.IsLocal() {
		return "from the local machine"
	}

	return "from " + a.Address
}

func (a ConnectionAttempt) String() string {
	return fmt.Sprintf("%s %s via remote port %d", a.Protocol, a.Origin(), a.Port)
}

// LocalProcess identifies the process that owns the socket a local attempt came from.
type LocalProcess struct {
	PID  int32  `json:"pid"`
	Name string `json:"name,omitempty"`
}

// AttemptEvent is the notification payload produced for every new attempt.
type AttemptEvent struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	SentinelAddr string            `json:"sentinel_addr"`
	SentinelPort uint16            `json:"sentinel_port"`
	Attempt      ConnectionAttempt `json:"attempt"`
	Country      string            `json:"country,omitempty"`
	Process      *LocalProcess     `json:"process,omitempty"`
}
