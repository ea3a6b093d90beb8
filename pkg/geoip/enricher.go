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

// Package geoip tags remote sentinel attempts with the sender's country.
package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
)

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

type reader interface {
	Lookup(ip net.IP, result any) error
	Close() error
}

// Enricher looks attempt addresses up in a MaxMind database. A nil Enricher
// does nothing.
type Enricher struct {
	db     reader
	logger logger.Logger
}

// Open loads the database named by cfg. A disabled config yields a nil
// Enricher and no error.
func Open(cfg *models.GeoIPConfig, log logger.Logger) (*Enricher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := maxminddb.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database %s: %w", cfg.DatabasePath, err)
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	log.Info().
		Str("path", cfg.DatabasePath).
		Str("type", db.Metadata.DatabaseType).
		Msg("Loaded GeoIP database")

	return &Enricher{db: db, logger: log}, nil
}

// Country returns the ISO code for address, or "" when unknown.
func (e *Enricher) Country(address string) string {
	if e == nil || e.db == nil {
		return ""
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return ""
	}

	var rec countryRecord

	if err := e.db.Lookup(ip, &rec); err != nil {
		e.logger.Debug().Err(err).Str("address", address).Msg("GeoIP lookup failed")
		return ""
	}

	if rec.Country.ISOCode != "" {
		return rec.Country.ISOCode
	}

	return rec.RegisteredCountry.ISOCode
}

// Enrich sets the country of a remote attempt. Local attempts are skipped.
func (e *Enricher) Enrich(_ context.Context, event *models.AttemptEvent) {
	if e == nil || event == nil || event.Attempt.IsLocal() {
		return
	}

	if cc := e.Country(event.Attempt.Address); cc != "" {
		event.Country = cc
	}
}

// Close releases the database.
func (e *Enricher) Close() error {
	if e == nil || e.db == nil {
		return nil
	}

	return e.db.Close()
}
