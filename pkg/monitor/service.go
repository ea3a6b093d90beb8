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

// Package monitor drives a port sentinel: it polls the detector on a ticker
// and hands every new connection attempt to the configured notifiers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
	"github.com/carverauto/portsentinel/pkg/sentinel"
)

const notifyTimeout = 5 * time.Second

var errServiceClosed = errors.New("service is closed")

// Service owns a sentinel and the notifiers fed from it.
type Service struct {
	config    Config
	clock     Clock
	logger    logger.Logger
	sentinel  Sentinel
	notifiers []Notifier
	enrichers []Enricher

	sentinelOpts []sentinel.Option

	mu      sync.Mutex
	halted  bool
	done    chan struct{}
	startWg sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithSentinel replaces the detector the service would otherwise build.
func WithSentinel(s Sentinel) ServiceOption {
	return func(svc *Service) {
		svc.sentinel = s
	}
}

// WithNotifiers adds notifiers. They are closed with the service.
func WithNotifiers(n ...Notifier) ServiceOption {
	return func(svc *Service) {
		svc.notifiers = append(svc.notifiers, n...)
	}
}

// WithEnrichers adds enrichers, run in order before notification.
func WithEnrichers(e ...Enricher) ServiceOption {
	return func(svc *Service) {
		svc.enrichers = append(svc.enrichers, e...)
	}
}

// WithSentinelOptions passes options to the detector built by NewService.
func WithSentinelOptions(opts ...sentinel.Option) ServiceOption {
	return func(svc *Service) {
		svc.sentinelOpts = append(svc.sentinelOpts, opts...)
	}
}

// NewService validates cfg and binds the sentinel.
func NewService(cfg *Config, clock Clock, log logger.Logger, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sentinel config: %w", err)
	}

	if clock == nil {
		clock = realClock{}
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	s := &Service{
		config: *cfg,
		clock:  clock,
		logger: log,
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sentinel == nil {
		detectorOpts := append([]sentinel.Option{sentinel.WithLogger(log)}, s.sentinelOpts...)

		d, err := sentinel.NewDetector(cfg.Port, cfg.Interface, detectorOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create sentinel: %w", err)
		}

		if !d.UDPOpened() && !d.TCPOpened() {
			s.logger.Warn().Uint16("port", cfg.Port).Msg("Neither UDP nor TCP could be bound, the sentinel is inert")
		}

		s.sentinel = d
	}

	return s, nil
}

// Start polls the sentinel until ctx is cancelled or the service is stopped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return errServiceClosed
	}

	s.startWg.Add(1)
	s.mu.Unlock()

	defer s.startWg.Done()

	interval := time.Duration(s.config.PollInterval)
	ticker := s.clock.Ticker(interval)

	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", interval).
		Uint16("port", s.sentinel.Port()).
		Str("interface", s.sentinel.Addr().String()).
		Msg("Starting port sentinel")

	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.Chan():
			s.poll(ctx)
		}
	}
}

func (s *Service) poll(ctx context.Context) {
	if !s.sentinel.Process() {
		return
	}

	for _, attempt := range s.sentinel.NewAttempts() {
		event := s.newEvent(attempt)

		for _, e := range s.enrichers {
			e.Enrich(ctx, event)
		}

		s.dispatch(ctx, event)
	}
}

func (s *Service) newEvent(attempt models.ConnectionAttempt) *models.AttemptEvent {
	return &models.AttemptEvent{
		ID:           uuid.NewString(),
		Timestamp:    s.clock.Now().UTC(),
		SentinelAddr: s.sentinel.Addr().String(),
		SentinelPort: s.sentinel.Port(),
		Attempt:      attempt,
	}
}

func (s *Service) dispatch(ctx context.Context, event *models.AttemptEvent) {
	for _, n := range s.notifiers {
		notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
		err := n.Notify(notifyCtx, event)

		cancel()

		if err != nil {
			s.logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("protocol", event.Attempt.Protocol.String()).
				Msg("Failed to deliver attempt notification")
		}
	}
}

func (s *Service) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		return
	}

	s.halted = true
	close(s.done)
}

// Stop ends the poll loop, waiting at most until ctx is done, and releases
// the sentinel and notifiers.
func (s *Service) Stop(ctx context.Context) error {
	s.halt()

	stopped := make(chan struct{})

	go func() {
		s.startWg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.Close()
}

// Close stops the poll loop and releases the sentinel and every notifier.
func (s *Service) Close() error {
	s.halt()
	s.startWg.Wait()

	s.closeOnce.Do(func() {
		var errs []error

		if err := s.sentinel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sentinel: %w", err))
		}

		for _, n := range s.notifiers {
			if err := n.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		if len(errs) > 0 {
			s.closeErr = fmt.Errorf("%w: %w", errClosing, errors.Join(errs...))
		}
	})

	return s.closeErr
}
