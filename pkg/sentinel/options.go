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
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/portsentinel/pkg/logger"
)

const defaultBufferSize = 64

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger diagnostics are written to.
func WithLogger(log logger.Logger) Option {
	return func(d *Detector) {
		if log != nil {
			d.logger = log
		}
	}
}

// WithBinder replaces the operating system socket factory.
func WithBinder(b Binder) Option {
	return func(d *Detector) {
		if b != nil {
			d.binder = b
		}
	}
}

// WithMeterProvider records detector metrics on provider instead of the global one.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(d *Detector) {
		d.meterProvider = provider
	}
}

// WithBufferSize sets the UDP receive buffer size. Datagrams larger than the
// buffer are still recorded.
func WithBufferSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.bufferSize = n
		}
	}
}
