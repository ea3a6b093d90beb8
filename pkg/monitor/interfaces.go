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

//go:generate mockgen -destination=mock_monitor.go -package=monitor github.com/carverauto/portsentinel/pkg/monitor Clock,Ticker,Sentinel,Notifier,Enricher

import (
	"context"
	"net/netip"
	"time"

	"github.com/carverauto/portsentinel/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Sentinel is the part of sentinel.Detector the service drives.
type Sentinel interface {
	Process() bool
	NewAttempts() []models.ConnectionAttempt
	Addr() netip.Addr
	Port() uint16
	Close() error
}

// Notifier receives one event per new connection attempt.
type Notifier interface {
	Notify(ctx context.Context, event *models.AttemptEvent) error
	Close() error
}

// Enricher adds details to an event before notifiers see it. Enrichers are
// best-effort and must leave the event untouched when they have nothing.
type Enricher interface {
	Enrich(ctx context.Context, event *models.AttemptEvent)
}
