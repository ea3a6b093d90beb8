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

// Package procattr finds which local process made a loopback attempt.
package procattr

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
)

// ErrNoOwner is returned when no local socket matches the attempt.
var ErrNoOwner = errors.New("no local process owns the attempt's socket")

var (
	connectionsWithContext = psnet.ConnectionsWithContext
	processNameWithContext = func(ctx context.Context, pid int32) (string, error) {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			return "", err
		}

		return p.NameWithContext(ctx)
	}
)

// Resolver attributes loopback attempts to local processes.
type Resolver struct {
	logger logger.Logger
}

// NewResolver returns a Resolver that logs lookup failures at debug level.
func NewResolver(log logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Resolver{logger: log}
}

// Lookup finds the process whose socket used attempt's source port to reach
// sentinelPort on this machine.
func (r *Resolver) Lookup(ctx context.Context, attempt models.ConnectionAttempt, sentinelPort uint16) (*models.LocalProcess, error) {
	kind := "udp"
	if attempt.Protocol == models.ProtocolTCP {
		kind = "tcp"
	}

	conns, err := connectionsWithContext(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sockets: %w", kind, err)
	}

	for i := range conns {
		c := &conns[i]

		if !matches(c, attempt, sentinelPort) {
			continue
		}

		name, err := processNameWithContext(ctx, c.Pid)
		if err != nil {
			r.logger.Debug().Err(err).Int32("pid", c.Pid).Msg("Could not read process name")
		}

		return &models.LocalProcess{PID: c.Pid, Name: name}, nil
	}

	return nil, ErrNoOwner
}

func matches(c *psnet.ConnectionStat, attempt models.ConnectionAttempt, sentinelPort uint16) bool {
	if c.Pid <= 0 || c.Laddr.Port != uint32(attempt.Port) {
		return false
	}

	if addr, err := netip.ParseAddr(c.Laddr.IP); err == nil {
		addr = addr.Unmap()
		if !addr.IsLoopback() && !addr.IsUnspecified() {
			return false
		}
	}

	// an unconnected UDP client reports no peer
	if c.Raddr.Port != 0 && c.Raddr.Port != uint32(sentinelPort) {
		return false
	}

	// the sentinel's own socket shares the port only when it is the sentinel port
	return attempt.Port != sentinelPort || c.Raddr.Port == uint32(sentinelPort)
}

// Enrich attaches the owning process to a local attempt.
func (r *Resolver) Enrich(ctx context.Context, event *models.AttemptEvent) {
	if event == nil || !event.Attempt.IsLocal() {
		return
	}

	proc, err := r.Lookup(ctx, event.Attempt, event.SentinelPort)
	if err != nil {
		r.logger.Debug().Err(err).Str("event_id", event.ID).Msg("Local attempt not attributed")
		return
	}

	event.Process = proc
}
