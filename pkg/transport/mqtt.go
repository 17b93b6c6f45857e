package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/ingress"
)

// MQTT is a link over an MQTT broker. Commands arrive on the incoming topic,
// every reply is published on the outgoing topic.
type MQTT struct {
	cfg    config.MQTTConfig
	client mqtt.Client

	mu  sync.Mutex
	ctx context.Context
	in  *ingress.Ingress
}

// NewMQTT creates an MQTT link. It does not connect; see Connect and Serve.
func NewMQTT(cfg config.MQTTConfig) *MQTT {
	m := &MQTT{cfg: cfg}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.ConnectTimeout).
		// Reconnection is driven by the Monitor.
		SetAutoReconnect(false).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("[mqtt] connection lost: %v", err)
		})
	m.client = mqtt.NewClient(opts)
	return m
}

func newMQTTWithClient(cfg config.MQTTConfig, client mqtt.Client) *MQTT {
	return &MQTT{cfg: cfg, client: client}
}

// Name returns the link name used in logs.
func (m *MQTT) Name() string { return "mqtt" }

// Connected reports whether the broker connection is up.
func (m *MQTT) Connected() bool { return m.client.IsConnected() }

// Connect connects to the broker and subscribes to the incoming topic.
func (m *MQTT) Connect() error {
	if err := m.wait(m.client.Connect()); err != nil {
		return fmt.Errorf("connect %s: %w", m.cfg.Broker, err)
	}
	if err := m.wait(m.client.Subscribe(m.cfg.IncomingTopic, 0, m.onMessage)); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.cfg.IncomingTopic, err)
	}
	log.Printf("[mqtt] connected to %s, listening on %s", m.cfg.Broker, m.cfg.IncomingTopic)
	return nil
}

// WriteLine publishes line on the outgoing topic.
func (m *MQTT) WriteLine(line string) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	if err := m.wait(m.client.Publish(m.cfg.OutgoingTopic, 0, false, line)); err != nil {
		return fmt.Errorf("publish %s: %w", m.cfg.OutgoingTopic, err)
	}
	return nil
}

// Serve feeds incoming messages to in and keeps the connection up until ctx
// is done.
func (m *MQTT) Serve(ctx context.Context, in *ingress.Ingress) error {
	m.mu.Lock()
	m.ctx, m.in = ctx, in
	m.mu.Unlock()

	err := NewMonitor(m, m.cfg.MonitorInterval, m.cfg.RetryInterval).Run(ctx)
	m.Close()
	return err
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client.IsConnectionOpen() {
		m.client.Disconnect(250)
	}
	return nil
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m.handle(msg.Payload())
}

func (m *MQTT) handle(payload []byte) {
	m.mu.Lock()
	ctx, in := m.ctx, m.in
	m.mu.Unlock()
	if in == nil {
		log.Printf("[mqtt] not serving, dropping %q", payload)
		return
	}

	if fb := in.Accept(ctx, m.Name(), payload); fb != "" {
		if err := m.WriteLine(fb); err != nil {
			log.Printf("[mqtt] reply failed: %v", err)
		}
	}
}

func (m *MQTT) wait(tok mqtt.Token) error {
	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return tok.Error()
}
