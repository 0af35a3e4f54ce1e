// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package forwarder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/cpaumelle/sensemy-iot-platform/internal/config"
	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// NATSMirror publishes accepted uplinks to a JetStream stream, one subject
// per provider ({prefix}.{source}). Consumers get at-least-once delivery
// with broker-side deduplication keyed on the uplink UUID, so webhook
// retries collapse to one message.
type NATSMirror struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]
	cfg       config.NATSConfig

	mu     sync.Mutex
	closed bool
}

// NewNATSMirror connects to NATS, ensures the stream exists and returns a
// mirror sink ready for the forwarder.
func NewNATSMirror(ctx context.Context, cfg config.NATSConfig) (*NATSMirror, error) {
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}

	if err := ensureStream(ctx, nc, cfg); err != nil {
		nc.Close()
		return nil, err
	}
	nc.Close()

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: cfg.URL,
		NatsOptions: []natsgo.Option{
			natsgo.Timeout(cfg.ConnectTimeout),
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is pre-created above
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, watermill.NopLogger{})
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "nats-mirror",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return &NATSMirror{publisher: pub, breaker: breaker, cfg: cfg}, nil
}

// ensureStream creates or updates the uplink stream. Retention is
// limits-based so the stream is a rolling mirror, not a second store of
// record.
func ensureStream(ctx context.Context, nc *natsgo.Conn, cfg config.NATSConfig) error {
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := js.Stream(ctx, cfg.StreamName); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.StreamName, err)
		}
		return nil
	}
	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// Name implements Sink.
func (m *NATSMirror) Name() string { return "nats" }

// Deliver implements Sink. The uplink UUID doubles as the Nats-Msg-Id so
// redelivered webhooks do not produce duplicate stream entries.
func (m *NATSMirror) Deliver(ctx context.Context, up *models.RawUplink) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("nats mirror is closed")
	}
	m.mu.Unlock()

	data, err := json.Marshal(up)
	if err != nil {
		return fmt.Errorf("marshal uplink %s: %w", up.UplinkUUID, err)
	}

	msg := message.NewMessage(up.UplinkUUID.String(), data)
	msg.Metadata.Set(natsgo.MsgIdHdr, up.UplinkUUID.String())
	msg.Metadata.Set("deveui", up.DevEUI)
	msg.Metadata.Set("source", string(up.Source))

	subject := fmt.Sprintf("%s.%s", m.cfg.SubjectPrefix, up.Source)
	_, err = m.breaker.Execute(func() (any, error) {
		return nil, m.publisher.Publish(subject, msg)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close implements Sink.
func (m *NATSMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.publisher.Close()
}
