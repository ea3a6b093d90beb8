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
	"errors"
	"fmt"
	"time"
)

var (
	errInvalidDuration     = errors.New("invalid duration")
	errTrapTargetRequired  = errors.New("snmp trap target is required")
	errGeoIPDBPathRequired = errors.New("geoip database path is required")
)

const (
	defaultTrapPort      = 162
	defaultTrapCommunity = "public"
	defaultTrapTimeout   = 2 * time.Second
)

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("250ms") or a number of nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SNMPTrapConfig configures the SNMPv2c trap notifier.
type SNMPTrapConfig struct {
	Enabled   bool     `json:"enabled"`
	Target    string   `json:"target"`
	Port      uint16   `json:"port,omitempty"`
	Community string   `json:"community,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
	Retries   int      `json:"retries,omitempty"`
}

// Validate fills defaults for an enabled trap notifier.
func (c *SNMPTrapConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Target == "" {
		return errTrapTargetRequired
	}

	if c.Port == 0 {
		c.Port = defaultTrapPort
	}

	if c.Community == "" {
		c.Community = defaultTrapCommunity
	}

	if c.Timeout == 0 {
		c.Timeout = Duration(defaultTrapTimeout)
	}

	return nil
}

// GeoIPConfig points at a MaxMind country or city database.
type GeoIPConfig struct {
	Enabled      bool   `json:"enabled"`
	DatabasePath string `json:"database_path"`
}

func (c *GeoIPConfig) Validate() error {
	if c.Enabled && c.DatabasePath == "" {
		return errGeoIPDBPathRequired
	}

	return nil
}
