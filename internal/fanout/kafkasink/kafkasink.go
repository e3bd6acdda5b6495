// Package kafkasink publishes decoded messages to a Kafka cluster, keyed
// by the originating template's type name, using exactly the write path
// the gateway's dashboard exposes connection status for.
package kafkasink

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/foundryfieldworks/tagwire/internal/config"
	"github.com/foundryfieldworks/tagwire/internal/obslog"
)

// ConnectionStatus represents the state of a Kafka connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Sink publishes encoded message bytes to Kafka with delivery
// acknowledgement per the configured RequiredAcks.
type Sink struct {
	cfg     config.KafkaSinkConfig
	writers map[string]*kafka.Writer // topic -> writer
	status  ConnectionStatus
	lastErr error
	mu      sync.RWMutex

	messagesSent  int64
	messagesError int64
	lastSendTime  time.Time
}

// New creates a new Kafka sink from a resolved sink configuration.
func New(cfg config.KafkaSinkConfig) *Sink {
	return &Sink{
		cfg:     cfg,
		writers: make(map[string]*kafka.Writer),
		status:  StatusDisconnected,
	}
}

// Name returns the sink's configured name, for status displays.
func (s *Sink) Name() string {
	return s.cfg.Name
}

// Config returns the sink's static configuration, for status displays.
func (s *Sink) Config() config.KafkaSinkConfig {
	return s.cfg
}

// Status returns the current connection status.
func (s *Sink) Status() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError returns the last error encountered.
func (s *Sink) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Stats returns sink statistics.
func (s *Sink) Stats() (sent, errors int64, lastSend time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesSent, s.messagesError, s.lastSendTime
}

// Connect verifies connectivity to the Kafka cluster.
func (s *Sink) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.status = StatusConnecting
	s.lastErr = nil
	name := s.cfg.Name
	brokers := s.cfg.Brokers
	s.mu.Unlock()

	obslog.DebugLog("kafkasink", "CONNECT %s: connecting to brokers %v", name, brokers)

	dialer := s.createDialer()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		s.mu.Lock()
		s.status = StatusError
		s.lastErr = fmt.Errorf("failed to connect: %w", err)
		s.mu.Unlock()
		obslog.DebugLog("kafkasink", "CONNECT %s: FAILED - %v", name, err)
		return s.lastErr
	}
	conn.Close()

	s.mu.Lock()
	s.status = StatusConnected
	s.mu.Unlock()

	obslog.DebugLog("kafkasink", "CONNECT %s: connected successfully", name)
	return nil
}

// Disconnect closes all topic writers.
func (s *Sink) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	obslog.DebugLog("kafkasink", "DISCONNECT %s: closing %d topic writers", s.cfg.Name, len(s.writers))

	for topic, writer := range s.writers {
		writer.Close()
		delete(s.writers, topic)
	}

	s.status = StatusDisconnected
	s.lastErr = nil
}

// Publish sends an encoded message to the sink's configured topic, keyed by
// the template's type name so consumers can partition by message kind.
func (s *Sink) Publish(ctx context.Context, typeName string, payload []byte) error {
	return s.PublishTo(ctx, s.cfg.Topic, []byte(typeName), payload)
}

// PublishTo sends an encoded message to an explicit topic and key.
func (s *Sink) PublishTo(ctx context.Context, topic string, key, value []byte) error {
	start := time.Now()

	writer, err := s.getWriter(topic)
	if err != nil {
		return err
	}

	msg := kafka.Message{Key: key, Value: value, Time: time.Now()}

	err = writer.WriteMessages(ctx, msg)
	if err != nil {
		s.mu.Lock()
		s.messagesError++
		s.lastErr = err
		s.mu.Unlock()
		if strings.Contains(err.Error(), "Unknown Topic") {
			obslog.DebugLog("kafkasink", "TOPIC %s: topic '%s' not found on broker", s.cfg.Name, topic)
		}
		obslog.DebugLog("kafkasink", "PUBLISH %s: FAILED topic '%s' after %v: %v", s.cfg.Name, topic, time.Since(start), err)
		return fmt.Errorf("kafka publish failed: %w", err)
	}

	s.mu.Lock()
	s.messagesSent++
	s.lastSendTime = time.Now()
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// PublishWithRetry publishes with bounded retry, used for sinks backing a
// decode pipeline where transient broker hiccups should not drop messages.
func (s *Sink) PublishWithRetry(ctx context.Context, typeName string, payload []byte) error {
	maxRetries := s.cfg.MaxRetries
	backoff := s.cfg.RetryBackoff
	if backoff == 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		err := s.Publish(ctx, typeName, payload)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("kafka publish failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *Sink) getWriter(topic string) (*kafka.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusConnected {
		return nil, fmt.Errorf("kafka sink '%s' not connected", s.cfg.Name)
	}

	if writer, exists := s.writers[topic]; exists {
		return writer, nil
	}

	requiredAcks := s.cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = -1
	}

	writer := &kafka.Writer{
		Addr:      kafka.TCP(s.cfg.Brokers...),
		Topic:     topic,
		Balancer:  &kafka.LeastBytes{},
		Transport: s.createTransport(),

		RequiredAcks: kafka.RequiredAcks(requiredAcks),
		Async:        false,
		MaxAttempts:  s.cfg.MaxRetries,

		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 10 * time.Millisecond,

		Compression: s.compressionCodec(),

		AllowAutoTopicCreation: true,
	}

	s.writers[topic] = writer
	obslog.DebugLog("kafkasink", "TOPIC %s: created writer for topic '%s'", s.cfg.Name, topic)
	return writer, nil
}

func (s *Sink) createDialer() *kafka.Dialer {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}

	if s.cfg.UseTLS {
		dialer.TLS = s.tlsConfig()
	}
	if mechanism := s.saslMechanism(); mechanism != nil {
		dialer.SASLMechanism = mechanism
	}

	return dialer
}

func (s *Sink) createTransport() *kafka.Transport {
	transport := &kafka.Transport{DialTimeout: 10 * time.Second}

	if s.cfg.UseTLS {
		transport.TLS = s.tlsConfig()
	}
	if mechanism := s.saslMechanism(); mechanism != nil {
		transport.SASL = mechanism
	}

	return transport
}

// compressionCodec maps the sink's configured compression name to a
// kafka-go producer codec, backed by klauspost/compress implementations
// for gzip, snappy, and zstd and by pierrec/lz4 for lz4.
func (s *Sink) compressionCodec() kafka.Compression {
	switch strings.ToLower(s.cfg.Compression) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

func (s *Sink) tlsConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: s.cfg.TLSSkipVerify}
}

func (s *Sink) saslMechanism() sasl.Mechanism {
	if s.cfg.Username == "" {
		return nil
	}

	switch s.cfg.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{Username: s.cfg.Username, Password: s.cfg.Password}
	case "SCRAM-SHA-256":
		mechanism, _ := scram.Mechanism(scram.SHA256, s.cfg.Username, s.cfg.Password)
		return mechanism
	case "SCRAM-SHA-512":
		mechanism, _ := scram.Mechanism(scram.SHA512, s.cfg.Username, s.cfg.Password)
		return mechanism
	default:
		return nil
	}
}
