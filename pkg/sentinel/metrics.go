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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/portsentinel/pkg/models"
)

const (
	meterName              = "portsentinel.sentinel"
	metricAttemptsTotal    = "portsentinel_attempts_total"
	metricBindFailureTotal = "portsentinel_bind_failures_total"
	metricPollErrorsTotal  = "portsentinel_poll_errors_total"
	metricKnownAttempts    = "portsentinel_known_attempts"
)

// detectorMetrics holds the instruments of one detector. Instrument creation
// errors are handed to otel.Handle and leave a nil instrument behind.
type detectorMetrics struct {
	attempts     metric.Int64Counter
	bindFailures metric.Int64Counter
	pollErrors   metric.Int64Counter
	known        metric.Int64UpDownCounter
}

func newDetectorMetrics(provider metric.MeterProvider) *detectorMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)
	m := &detectorMetrics{}

	var err error

	m.attempts, err = meter.Int64Counter(
		metricAttemptsTotal,
		metric.WithDescription("Connection attempts observed on the sentinel port"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.bindFailures, err = meter.Int64Counter(
		metricBindFailureTotal,
		metric.WithDescription("Sentinel sockets that could not be bound"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.pollErrors, err = meter.Int64Counter(
		metricPollErrorsTotal,
		metric.WithDescription("Failures of the completion drain during a poll"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.known, err = meter.Int64UpDownCounter(
		metricKnownAttempts,
		metric.WithDescription("Distinct senders seen since the sentinel started"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return m
}

func (m *detectorMetrics) recordAttempt(attempt models.ConnectionAttempt, isNew bool) {
	ctx := context.Background()

	if m.attempts != nil {
		m.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("protocol", attempt.Protocol.String()),
			attribute.Bool("new", isNew),
			attribute.Bool("local", attempt.IsLocal()),
		))
	}

	if isNew && m.known != nil {
		m.known.Add(ctx, 1)
	}
}

func (m *detectorMetrics) recordBindFailure(proto models.Protocol) {
	if m.bindFailures == nil {
		return
	}

	m.bindFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("protocol", proto.String()),
	))
}

func (m *detectorMetrics) recordPollError() {
	if m.pollErrors == nil {
		return
	}

	m.pollErrors.Add(context.Background(), 1)
}
