// Package mqttsrc subscribes to raw message frames published on an MQTT
// broker and hands each payload to a decode callback, the ingest boundary
// feeding bytes into the dispatcher.
package mqttsrc

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/foundryfieldworks/tagwire/internal/config"
	"github.com/foundryfieldworks/tagwire/internal/obslog"
)

// Handler processes one raw frame received on the subscribed topic. The
// topic the frame arrived on is passed so a handler serving multiple
// devices can route by it.
type Handler func(topic string, payload []byte)

// Source subscribes to a single MQTT broker and topic and delivers
// received frames to a Handler.
type Source struct {
	cfg     config.MQTTSourceConfig
	client  pahomqtt.Client
	handler Handler
	running bool
	mu      sync.RWMutex
}

// New creates a new MQTT ingest source for a single broker/topic.
func New(cfg config.MQTTSourceConfig, handler Handler) *Source {
	return &Source{cfg: cfg, handler: handler}
}

// Name returns the source's configured name.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Config returns the source's static configuration, for status displays.
func (s *Source) Config() config.MQTTSourceConfig {
	return s.cfg
}

// IsRunning returns whether the source is connected and subscribed.
func (s *Source) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start connects to the broker and subscribes to the configured topic.
func (s *Source) Start() error {
	s.mu.RLock()
	if s.running {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()

	if s.cfg.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", s.cfg.Broker, s.cfg.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", s.cfg.Broker, s.cfg.Port))
	}

	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	obslog.DebugConnect("mqttsrc", s.Address())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		obslog.DebugConnectError("mqttsrc", s.Address(), fmt.Errorf("connection timeout"))
		return fmt.Errorf("mqttsrc %s: connection timeout", s.cfg.Name)
	}
	if token.Error() != nil {
		obslog.DebugConnectError("mqttsrc", s.Address(), token.Error())
		return token.Error()
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	s.client = client
	s.running = true
	s.mu.Unlock()

	obslog.DebugConnectSuccess("mqttsrc", s.Address(), fmt.Sprintf("subscribing to %s", s.cfg.Topic))

	subToken := client.Subscribe(s.cfg.Topic, 1, s.onMessage)
	if !subToken.WaitTimeout(5 * time.Second) {
		s.Stop()
		return fmt.Errorf("mqttsrc %s: subscribe timeout", s.cfg.Name)
	}
	if subToken.Error() != nil {
		s.Stop()
		return subToken.Error()
	}

	return nil
}

func (s *Source) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	obslog.DebugRX("mqttsrc", msg.Payload())
	if s.handler != nil {
		s.handler(msg.Topic(), msg.Payload())
	}
}

// Stop disconnects from the broker.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running || s.client == nil {
		s.mu.Unlock()
		return
	}
	client := s.client
	s.client = nil
	s.running = false
	s.mu.Unlock()

	obslog.DebugDisconnect("mqttsrc", s.Address(), "stopped")
	client.Disconnect(500)
}

// Address returns the broker address string.
func (s *Source) Address() string {
	if s.cfg.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", s.cfg.Broker, s.cfg.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", s.cfg.Broker, s.cfg.Port)
}
