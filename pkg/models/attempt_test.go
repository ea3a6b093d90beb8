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
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptFromAddrPort(t *testing.T) {
	tests := []struct {
		name   string
		proto  Protocol
		remote string
		want   ConnectionAttempt
	}{
		{
			name:   "ipv4 loopback is blanked",
			proto:  ProtocolTCP,
			remote: "127.0.0.1:54321",
			want:   ConnectionAttempt{Protocol: ProtocolTCP, Port: 54321},
		},
		{
			name:   "other loopback range address is blanked",
			proto:  ProtocolUDP,
			remote: "127.8.9.10:1",
			want:   ConnectionAttempt{Protocol: ProtocolUDP, Port: 1},
		},
		{
			name:   "ipv6 loopback is blanked",
			proto:  ProtocolUDP,
			remote: "[::1]:4000",
			want:   ConnectionAttempt{Protocol: ProtocolUDP, Port: 4000},
		},
		{
			name:   "v4-mapped loopback is blanked",
			proto:  ProtocolTCP,
			remote: "[::ffff:127.0.0.1]:4001",
			want:   ConnectionAttempt{Protocol: ProtocolTCP, Port: 4001},
		},
		{
			name:   "remote address kept verbatim",
			proto:  ProtocolUDP,
			remote: "10.0.0.5:11111",
			want:   ConnectionAttempt{Protocol: ProtocolUDP, Port: 11111, Address: "10.0.0.5"},
		},
		{
			name:   "v4-mapped remote address is unmapped",
			proto:  ProtocolTCP,
			remote: "[::ffff:192.168.1.20]:80",
			want:   ConnectionAttempt{Protocol: ProtocolTCP, Port: 80, Address: "192.168.1.20"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AttemptFromAddrPort(tc.proto, netip.MustParseAddrPort(tc.remote))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConnectionAttemptString(t *testing.T) {
	local := ConnectionAttempt{Protocol: ProtocolTCP, Port: 54321}
	remote := ConnectionAttempt{Protocol: ProtocolUDP, Port: 11111, Address: "10.0.0.5"}

	assert.Equal(t, "TCP from the local machine via remote port 54321", local.String())
	assert.Equal(t, "UDP from 10.0.0.5 via remote port 11111", remote.String())
	assert.True(t, local.IsLocal())
	assert.False(t, remote.IsLocal())
}

func TestConnectionAttemptIsComparable(t *testing.T) {
	seen := map[ConnectionAttempt]struct{}{}

	a := ConnectionAttempt{Protocol: ProtocolTCP, Port: 1, Address: "10.0.0.1"}
	seen[a] = struct{}{}

	_, ok := seen[ConnectionAttempt{Protocol: ProtocolTCP, Port: 1, Address: "10.0.0.1"}]
	assert.True(t, ok)

	_, ok = seen[ConnectionAttempt{Protocol: ProtocolUDP, Port: 1, Address: "10.0.0.1"}]
	assert.False(t, ok)
}

func TestAttemptJSONUsesProtocolName(t *testing.T) {
	b, err := json.Marshal(ConnectionAttempt{Protocol: ProtocolUDP, Port: 9})
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocol":"UDP","port":9}`, string(b))
}
