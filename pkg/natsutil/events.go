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

// Package natsutil publishes sentinel events to NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/portsentinel/pkg/logger"
	"github.com/carverauto/portsentinel/pkg/models"
)

const (
	// AttemptEventType is the CloudEvents type of a new connection attempt.
	AttemptEventType = "com.carverauto.portsentinel.attempt.new"

	// DefaultAttemptSubject is where attempt events go unless configured.
	DefaultAttemptSubject = "events.sentinel.attempt"

	eventSource = "portsentinel/sentinel"
)

var errNilEvent = errors.New("nil attempt event")

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js      jetstream.JetStream
	stream  string
	subject string
	nc      *nats.Conn
	logger  logger.Logger
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName, subject string, log logger.Logger) *EventPublisher {
	if subject == "" {
		subject = DefaultAttemptSubject
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &EventPublisher{
		js:      js,
		stream:  streamName,
		subject: subject,
		logger:  log,
	}
}

// Subject is the subject attempt events are published to.
func (p *EventPublisher) Subject() string {
	return p.subject
}

// PublishAttemptEvent publishes a new-attempt event to the events stream.
func (p *EventPublisher) PublishAttemptEvent(ctx context.Context, event *models.AttemptEvent) error {
	if event == nil {
		return errNilEvent
	}

	ts := event.Timestamp

	cloudEvent := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              event.ID,
		Source:          eventSource,
		Type:            AttemptEventType,
		DataContentType: "application/json",
		Subject:         p.subject,
		Time:            &ts,
		Data:            event,
	}

	eventBytes, err := json.Marshal(cloudEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt event: %w", err)
	}

	ack, err := p.js.Publish(ctx, p.subject, eventBytes, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish attempt event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", p.subject).
		Uint64("seq", ack.Sequence).
		Msg("Published attempt event")

	return nil
}

// Notify publishes event; it lets the publisher act as a monitor notifier.
func (p *EventPublisher) Notify(ctx context.Context, event *models.AttemptEvent) error {
	return p.PublishAttemptEvent(ctx, event)
}

// Close drains the connection if the publisher opened it.
func (p *EventPublisher) Close() error {
	if p.nc == nil {
		return nil
	}

	if err := p.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	return nil
}

// ConnectWithEventPublisher connects to NATS, makes sure the stream exists and
// returns a publisher that owns the connection.
func ConnectWithEventPublisher(
	ctx context.Context, natsURL, domain, streamName, subject string, log logger.Logger, opts ...nats.Option,
) (*EventPublisher, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	opts = append([]nats.Option{
		nats.Name("portsentinel"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	publisher, err := CreateEventPublisherWithDomain(ctx, nc, domain, streamName, subject, log)
	if err != nil {
		nc.Close()
		return nil, err
	}

	publisher.nc = nc

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("stream", streamName).
		Str("subject", publisher.subject).
		Msg("Connected attempt event publisher")

	return publisher, nil
}

// CreateEventPublisherWithDomain creates an EventPublisher on an existing
// connection, with optional JetStream domain support.
func CreateEventPublisherWithDomain(
	ctx context.Context, nc *nats.Conn, domain, streamName, subject string, log logger.Logger,
) (*EventPublisher, error) {
	var (
		js  jetstream.JetStream
		err error
	)

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}
	} else {
		js, err = jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	publisher := NewEventPublisher(js, streamName, subject, log)

	if err := ensureStream(ctx, js, streamName, publisher.subject); err != nil {
		return nil, err
	}

	return publisher, nil
}

// ensureStream creates the stream if it is missing and adds subject to an
// existing stream that does not already cover it.
func ensureStream(ctx context.Context, js jetstream.JetStream, streamName, subject string) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		return nil
	}

	cfg := stream.CachedInfo().Config

	subjects := ensureSubjectList(append([]string(nil), cfg.Subjects...), subject)
	if len(subjects) == len(cfg.Subjects) {
		return nil
	}

	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subject %s to stream %s: %w", subject, streamName, err)
	}

	return nil
}

func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether pattern, which may use the * and >
// wildcards, covers subject.
func matchesSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, p := range pTokens {
		if p == ">" {
			return len(sTokens) > i
		}

		if i >= len(sTokens) {
			return false
		}

		if p != "*" && p != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
