// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package mqtt mirrors accepted uplinks to an MQTT broker using the
// ChirpStack gateway-bridge topic layout, so consumers written against a
// ChirpStack deployment work unchanged regardless of which network server
// actually delivered the uplink.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/cpaumelle/sensemy-iot-platform/internal/config"
	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// uplinkEvent is the ChirpStack "event/up" message body, reduced to the
// fields this pipeline can populate.
type uplinkEvent struct {
	DeduplicationID string         `json:"deduplicationId"`
	Time            time.Time      `json:"time"`
	DeviceInfo      deviceInfo     `json:"deviceInfo"`
	DevAddr         string         `json:"devAddr,omitempty"`
	FPort           int            `json:"fPort"`
	Data            string         `json:"data"` // hex payload
	RXInfo          []rxInfo       `json:"rxInfo,omitempty"`
	Source          string         `json:"source"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type deviceInfo struct {
	ApplicationID string `json:"applicationId"`
	DevEUI        string `json:"devEui"`
}

type rxInfo struct {
	GatewayID string   `json:"gatewayId"`
	RSSI      *float64 `json:"rssi,omitempty"`
	SNR       *float64 `json:"snr,omitempty"`
}

// Mirror publishes uplinks to application/{app_id}/device/{dev_eui}/event/up.
type Mirror struct {
	client paho.Client
	cfg    config.MQTTConfig

	mu     sync.Mutex
	closed bool
}

// NewMirror connects to the broker and returns a forwarder sink.
func NewMirror(cfg config.MQTTConfig) (*Mirror, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logging.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetOnConnectHandler(func(paho.Client) {
			logging.Info().Str("broker", cfg.BrokerURL).Msg("MQTT connected")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.BrokerURL, err)
	}

	return &Mirror{client: client, cfg: cfg}, nil
}

// Name implements forwarder.Sink.
func (m *Mirror) Name() string { return "mqtt" }

// Deliver implements forwarder.Sink.
func (m *Mirror) Deliver(_ context.Context, up *models.RawUplink) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("mqtt mirror is closed")
	}
	m.mu.Unlock()

	event := eventFromUplink(up, m.cfg.ApplicationID)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal uplink event %s: %w", up.UplinkUUID, err)
	}

	topic := fmt.Sprintf("application/%s/device/%s/event/up",
		m.cfg.ApplicationID, up.DevEUI)
	token := m.client.Publish(topic, m.cfg.QoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close implements forwarder.Sink.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.client.Disconnect(uint(publishTimeout.Milliseconds()))
	return nil
}

func eventFromUplink(up *models.RawUplink, appID string) *uplinkEvent {
	event := &uplinkEvent{
		DeduplicationID: up.UplinkUUID.String(),
		Time:            up.ReceivedAt,
		DeviceInfo:      deviceInfo{ApplicationID: appID, DevEUI: up.DevEUI},
		FPort:           up.FPort,
		Data:            up.Payload,
		Source:          string(up.Source),
	}
	if up.GatewayEUI != "" {
		event.RXInfo = []rxInfo{{GatewayID: up.GatewayEUI, RSSI: up.RSSI, SNR: up.SNR}}
	}
	if len(up.Metadata) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(up.Metadata, &meta); err == nil {
			event.Metadata = meta
		}
	}
	return event
}
