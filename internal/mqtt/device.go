// Package mqtt forwards alarms, speech and notices to a paired device over
// an MQTT broker. The device subscribes to bai/<name>/# and acts on them.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/ashureev/bai/internal/domain"
)

// ErrNotConnected is returned when publishing before Start has connected.
var ErrNotConnected = errors.New("mqtt device not connected")

// Config holds broker settings.
type Config struct {
	Broker     string
	DeviceName string
	Username   string
	Password   string
}

type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Device publishes device actions to the broker. It implements the alarm
// scheduler, speaker and notifier collaborators.
type Device struct {
	cfg    Config
	logger *slog.Logger

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
	// pub is cm, or a stand-in in tests.
	pub publisher
}

// NewDevice creates a Device but does not connect. Call Start.
func NewDevice(cfg Config, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "bai"
	}
	return &Device{cfg: cfg, logger: logger}
}

// alarmPayload is the message sent on the alarm topic.
type alarmPayload struct {
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
	Weekday int    `json:"weekday,omitempty"`
	Label   string `json:"label"`
}

type noticePayload struct {
	Kind      domain.NoticeKind `json:"kind"`
	Text      string            `json:"text"`
	Retryable bool              `json:"retryable,omitempty"`
}

func (d *Device) baseTopic() string {
	return "bai/" + d.cfg.DeviceName
}

func (d *Device) availabilityTopic() string {
	return d.baseTopic() + "/availability"
}

func (d *Device) alarmTopic() string {
	return d.baseTopic() + "/alarm/set"
}

func (d *Device) speakTopic() string {
	return d.baseTopic() + "/speak"
}

func (d *Device) noticeTopic() string {
	return d.baseTopic() + "/notice"
}

// Start connects to the broker and blocks until ctx is cancelled, then
// publishes "offline" and disconnects.
func (d *Device) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(d.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := d.availabilityTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: d.cfg.Username,
		ConnectPassword: []byte(d.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			d.logger.Info("mqtt connected to broker", "broker", d.cfg.Broker)
			d.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			d.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "bai-" + d.cfg.DeviceName,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	d.mu.Lock()
	d.cm = cm
	d.pub = cm
	d.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil {
		d.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	connCancel()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	d.publishAvailability(stopCtx, cm, "offline")
	if err := cm.Disconnect(stopCtx); err != nil {
		d.logger.Debug("mqtt disconnect failed", "error", err)
	}
	return nil
}

func (d *Device) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   d.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		d.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	d.logger.Info("mqtt availability published", "status", status)
}

func (d *Device) publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	d.mu.RLock()
	pub := d.pub
	d.mu.RUnlock()
	if pub == nil {
		return ErrNotConnected
	}
	if _, err := pub.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: qos}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// ScheduleAlarm publishes the alarm with QoS 1 so the device receives it
// at least once.
func (d *Device) ScheduleAlarm(ctx context.Context, alarm domain.ScheduledAlarm) error {
	payload, err := json.Marshal(alarmPayload(alarm))
	if err != nil {
		return fmt.Errorf("encode alarm: %w", err)
	}
	return d.publish(ctx, d.alarmTopic(), payload, 1)
}

// Speak publishes text for the device to read aloud.
func (d *Device) Speak(ctx context.Context, text string) error {
	return d.publish(ctx, d.speakTopic(), []byte(text), 0)
}

// Notify publishes n. Failures are logged.
func (d *Device) Notify(ctx context.Context, n domain.Notice) {
	payload, err := json.Marshal(noticePayload(n))
	if err != nil {
		d.logger.Error("mqtt marshal notice", "error", err)
		return
	}
	if err := d.publish(ctx, d.noticeTopic(), payload, 0); err != nil {
		d.logger.Debug("mqtt notice publish failed", "error", err)
	}
}

// AwaitConnection blocks until the broker connection is up or ctx expires.
func (d *Device) AwaitConnection(ctx context.Context) error {
	d.mu.RLock()
	cm := d.cm
	d.mu.RUnlock()
	if cm == nil {
		return ErrNotConnected
	}
	return cm.AwaitConnection(ctx)
}
