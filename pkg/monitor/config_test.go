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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/portsentinel/pkg/models"
	"github.com/carverauto/portsentinel/pkg/sentinel"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		errText string
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "defaults",
			cfg:  Config{Port: 9000},
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, "0.0.0.0", c.Interface)
				assert.Equal(t, models.Duration(250*time.Millisecond), c.PollInterval)
			},
		},
		{
			name: "explicit values kept",
			cfg:  Config{Port: 9000, Interface: "::1", PollInterval: models.Duration(time.Second)},
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, "::1", c.Interface)
				assert.Equal(t, models.Duration(time.Second), c.PollInterval)
			},
		},
		{
			name:    "missing port",
			cfg:     Config{},
			wantErr: errPortRequired,
		},
		{
			name:    "interface must be an address",
			cfg:     Config{Port: 9000, Interface: "localhost"},
			wantErr: sentinel.ErrInvalidInterface,
		},
		{
			name: "enabled events need nats",
			cfg: Config{
				Port:   9000,
				Events: &models.EventsConfig{Enabled: true},
			},
			errText: "events",
		},
		{
			name: "snmp defaults applied",
			cfg: Config{
				Port:     9000,
				SNMPTrap: &models.SNMPTrapConfig{Enabled: true, Target: "192.0.2.10"},
			},
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, uint16(162), c.SNMPTrap.Port)
				assert.Equal(t, "public", c.SNMPTrap.Community)
			},
		},
		{
			name: "disabled geoip needs nothing",
			cfg: Config{
				Port:  9000,
				GeoIP: &models.GeoIPConfig{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()

			if tt.errText != "" {
				require.ErrorContains(t, err, tt.errText)
				return
			}

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)

			if tt.check != nil {
				tt.check(t, &tt.cfg)
			}
		})
	}
}
