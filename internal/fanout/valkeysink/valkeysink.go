// Package valkeysink stores decoded messages as keys in a Valkey/Redis
// server, keyed by namespace, template type and an optional
// caller-supplied selector segment.
package valkeysink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foundryfieldworks/tagwire/internal/config"
	"github.com/foundryfieldworks/tagwire/internal/obslog"
)

// joinKey joins key segments with colons, trimming leading/trailing colons
// from each segment to avoid empty key parts.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// Record is the JSON structure stored in Valkey for a decoded message.
type Record struct {
	Namespace string          `json:"namespace"`
	TypeName  string          `json:"type"`
	Selector  string          `json:"selector,omitempty"`
	Object    json.RawMessage `json:"object"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sink stores decoded messages as keys in a Valkey server.
type Sink struct {
	cfg     config.ValkeySinkConfig
	client  *redis.Client
	running bool
	mu      sync.RWMutex
}

// New creates a new Valkey sink from a resolved sink configuration.
func New(cfg config.ValkeySinkConfig) *Sink {
	return &Sink{cfg: cfg}
}

// Name returns the sink's configured name, for status displays.
func (s *Sink) Name() string {
	return s.cfg.Name
}

// Config returns the sink's static configuration, for status displays.
func (s *Sink) Config() config.ValkeySinkConfig {
	return s.cfg
}

// Start connects to the Valkey server.
func (s *Sink) Start() error {
	s.mu.RLock()
	if s.running {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	opts := &redis.Options{
		Addr:         s.cfg.Address,
		Password:     s.cfg.Password,
		DB:           s.cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if s.cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	obslog.DebugLog("valkeysink", "CONNECT %s: connecting to %s (DB %d, TLS %v)", s.cfg.Name, s.cfg.Address, s.cfg.Database, s.cfg.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		obslog.DebugConnectError("valkeysink", s.Address(), err)
		client.Close()
		return fmt.Errorf("failed to connect to valkey at %s: %w", s.cfg.Address, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		client.Close()
		return nil
	}
	s.client = client
	s.running = true

	obslog.DebugConnectSuccess("valkeysink", s.Address(), "ready")
	return nil
}

// Stop disconnects from the Valkey server.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	client := s.client
	s.client = nil
	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning returns whether the sink is connected.
func (s *Sink) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address as a connection URI.
func (s *Sink) Address() string {
	scheme := "redis"
	if s.cfg.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, s.cfg.Address)
}

// Store writes a decoded message's JSON encoding under a key built from
// the sink's namespace and the message's type name and selector value.
func (s *Sink) Store(ctx context.Context, namespace, typeName, selector string, object interface{}) error {
	s.mu.RLock()
	if !s.running || s.client == nil {
		s.mu.RUnlock()
		return fmt.Errorf("valkey sink '%s' not connected", s.cfg.Name)
	}
	client := s.client
	s.mu.RUnlock()

	objData, err := json.Marshal(object)
	if err != nil {
		return fmt.Errorf("failed to marshal decoded object: %w", err)
	}

	record := Record{
		Namespace: namespace,
		TypeName:  typeName,
		Selector:  selector,
		Object:    objData,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := joinKey(namespace, typeName, selector)

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if s.cfg.KeyTTL > 0 {
		err = client.Set(storeCtx, key, data, s.cfg.KeyTTL).Err()
	} else {
		err = client.Set(storeCtx, key, data, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}

	return nil
}

// CorrelationEntry is cached so a later reply carrying the same
// correlationId can be matched back to the request that produced it
// (spec.md's scenario 1 id/correlationId pair).
type CorrelationEntry struct {
	MessageID     uint8     `json:"id"`
	CorrelationID uint16    `json:"correlationId"`
	TypeName      string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
}

func correlationKey(namespace string, correlationID uint16) string {
	return joinKey("correlation", namespace, fmt.Sprintf("%d", correlationID))
}

// StoreCorrelation caches a decoded message's id/correlationId pair under
// the sink's correlation namespace. ttl <= 0 stores the entry with no
// expiry.
func (s *Sink) StoreCorrelation(ctx context.Context, namespace string, id uint8, correlationID uint16, typeName string, ttl time.Duration) error {
	s.mu.RLock()
	if !s.running || s.client == nil {
		s.mu.RUnlock()
		return fmt.Errorf("valkey sink '%s' not connected", s.cfg.Name)
	}
	client := s.client
	s.mu.RUnlock()

	entry := CorrelationEntry{
		MessageID:     id,
		CorrelationID: correlationID,
		TypeName:      typeName,
		Timestamp:     time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal correlation entry: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Set(storeCtx, correlationKey(namespace, correlationID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set correlation key: %w", err)
	}
	return nil
}

// LookupCorrelation retrieves a previously cached id/correlationId pair so
// a reply can be matched back to the request it answers. A cache miss
// returns (nil, nil).
func (s *Sink) LookupCorrelation(ctx context.Context, namespace string, correlationID uint16) (*CorrelationEntry, error) {
	s.mu.RLock()
	if !s.running || s.client == nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("valkey sink '%s' not connected", s.cfg.Name)
	}
	client := s.client
	s.mu.RUnlock()

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := client.Get(lookupCtx, correlationKey(namespace, correlationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correlation key: %w", err)
	}

	var entry CorrelationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal correlation entry: %w", err)
	}
	return &entry, nil
}

// ExtractCorrelationFields looks for Id/ID and CorrelationId/CorrelationID
// fields on a decoded message and returns them if both are present and
// numeric. It is the bridge between a decoded Go struct (whose field names
// come from the template) and StoreCorrelation's typed id/correlationId
// arguments.
func ExtractCorrelationFields(object interface{}) (id uint8, correlationID uint16, ok bool) {
	v := reflect.ValueOf(object)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return 0, 0, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, 0, false
	}

	idField := firstField(v, "Id", "ID")
	corrField := firstField(v, "CorrelationId", "CorrelationID")
	if !idField.IsValid() || !corrField.IsValid() {
		return 0, 0, false
	}
	var vals [2]uint64
	for i, f := range []reflect.Value{idField, corrField} {
		switch {
		case f.CanInt():
			vals[i] = uint64(f.Int())
		case f.CanUint():
			vals[i] = f.Uint()
		default:
			return 0, 0, false
		}
	}
	return uint8(vals[0]), uint16(vals[1]), true
}

func firstField(v reflect.Value, names ...string) reflect.Value {
	for _, n := range names {
		if f := v.FieldByName(n); f.IsValid() {
			return f
		}
	}
	return reflect.Value{}
}
