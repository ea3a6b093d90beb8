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

// Package snmptrap raises an SNMPv2c trap for every new sentinel attempt.
package snmptrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
)

// OIDs live under the NET-SNMP experimental arc.
const (
	sysUpTimeOID   = ".1.3.6.1.2.1.1.3.0"
	snmpTrapOID    = ".1.3.6.1.6.3.1.1.4.1.0"
	AttemptTrapOID = ".1.3.6.1.4.1.8072.9999.9999.1"

	protocolOID     = AttemptTrapOID + ".1"
	addressOID      = AttemptTrapOID + ".2"
	remotePortOID   = AttemptTrapOID + ".3"
	sentinelPortOID = AttemptTrapOID + ".4"
	eventIDOID      = AttemptTrapOID + ".5"
)

var errNilEvent = errors.New("nil attempt event")

// Notifier sends traps to one manager.
type Notifier struct {
	mu      sync.Mutex
	client  *gosnmp.GoSNMP
	started time.Time
	logger  logger.Logger
}

// New connects the trap socket described by cfg.
func New(cfg *models.SNMPTrapConfig, log logger.Logger) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	client := &gosnmp.GoSNMP{
		Target:    cfg.Target,
		Port:      cfg.Port,
		Community: cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   time.Duration(cfg.Timeout),
		Retries:   cfg.Retries,
		MaxOids:   gosnmp.MaxOids,
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to open trap socket to %s:%d: %w", cfg.Target, cfg.Port, err)
	}

	log.Info().Str("target", cfg.Target).Uint16("port", cfg.Port).Msg("SNMP trap notifier ready")

	return &Notifier{
		client:  client,
		started: time.Now(),
		logger:  log,
	}, nil
}

// Notify sends one trap describing event.
func (n *Notifier) Notify(ctx context.Context, event *models.AttemptEvent) error {
	if event == nil {
		return errNilEvent
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := n.client.SendTrap(n.trapFor(event)); err != nil {
		return fmt.Errorf("failed to send SNMP trap: %w", err)
	}

	n.logger.Debug().Str("event_id", event.ID).Msg("Sent SNMP trap")

	return nil
}

func (n *Notifier) trapFor(event *models.AttemptEvent) gosnmp.SnmpTrap {
	address := event.Attempt.Address
	if address == "" {
		address = "local"
	}

	return gosnmp.SnmpTrap{
		Variables: []gosnmp.SnmpPDU{
			{Name: sysUpTimeOID, Type: gosnmp.TimeTicks, Value: n.uptime()},
			{Name: snmpTrapOID, Type: gosnmp.ObjectIdentifier, Value: AttemptTrapOID},
			{Name: protocolOID, Type: gosnmp.OctetString, Value: event.Attempt.Protocol.String()},
			{Name: addressOID, Type: gosnmp.OctetString, Value: address},
			{Name: remotePortOID, Type: gosnmp.Integer, Value: int(event.Attempt.Port)},
			{Name: sentinelPortOID, Type: gosnmp.Integer, Value: int(event.SentinelPort)},
			{Name: eventIDOID, Type: gosnmp.OctetString, Value: event.ID},
		},
	}
}

// uptime is in hundredths of a second, wrapping like sysUpTime does.
func (n *Notifier) uptime() uint32 {
	return uint32(time.Since(n.started).Milliseconds() / 10)
}

// Close releases the trap socket.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client == nil || n.client.Conn == nil {
		return nil
	}

	err := n.client.Conn.Close()
	n.client.Conn = nil

	return err
}
