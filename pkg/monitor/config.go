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

package monitor

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
	"github.com/carverauto/portsentinel/pkg/sentinel"
)

const (
	defaultInterface    = "0.0.0.0"
	defaultPollInterval = 250 * time.Millisecond
)

// Config represents the sentinel service configuration.
type Config struct {
	Port           uint16                 `json:"port"`
	Interface      string                 `json:"interface"`
	PollInterval   models.Duration        `json:"poll_interval"`
	AttributeLocal bool                   `json:"attribute_local"`
	Logging        *logger.Config         `json:"logging,omitempty"`
	Events         *models.EventsConfig   `json:"events,omitempty"`
	SNMPTrap       *models.SNMPTrapConfig `json:"snmp_trap,omitempty"`
	GeoIP          *models.GeoIPConfig    `json:"geoip,omitempty"`
}

// Validate implements config.Validator interface.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return errPortRequired
	}

	if c.Interface == "" {
		c.Interface = defaultInterface
	}

	if _, err := netip.ParseAddr(c.Interface); err != nil {
		return fmt.Errorf("%w %q: %w", sentinel.ErrInvalidInterface, c.Interface, err)
	}

	if time.Duration(c.PollInterval) <= 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.Events != nil {
		if err := c.Events.Validate(); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}

	if c.SNMPTrap != nil {
		if err := c.SNMPTrap.Validate(); err != nil {
			return fmt.Errorf("snmp_trap: %w", err)
		}
	}

	if c.GeoIP != nil {
		if err := c.GeoIP.Validate(); err != nil {
			return fmt.Errorf("geoip: %w", err)
		}
	}

	return nil
}
