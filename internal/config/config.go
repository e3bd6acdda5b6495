// Package config handles configuration persistence for the tagwire gateway.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foundryfieldworks/tagwire/internal/semver"
)

// ListenerID identifies a registered config change listener.
type ListenerID string

// Config holds the complete gateway configuration.
type Config struct {
	Namespace string `yaml:"namespace"` // instance namespace for topic/key isolation

	// FirmwareVersion is this gateway instance's active device firmware
	// version ("major.minor.patch"), used to gate which TemplatePacks'
	// FirmwareRange apply. Empty disables gating: every enabled pack loads.
	FirmwareVersion string               `yaml:"firmware_version,omitempty"`
	TemplatePacks   []TemplatePackConfig `yaml:"template_packs"`
	Web           WebConfig            `yaml:"web"`
	MQTTSources   []MQTTSourceConfig   `yaml:"mqtt_sources,omitempty"`
	Kafka         []KafkaSinkConfig    `yaml:"kafka_sinks,omitempty"`
	Valkey        []ValkeySinkConfig   `yaml:"valkey_sinks,omitempty"`
	UI            UIConfig             `yaml:"ui,omitempty"`

	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex          `yaml:"-"`
	listenerCounter uint64                `yaml:"-"`
}

// TemplatePackConfig names a YAML template-pack file to load at startup.
type TemplatePackConfig struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`

	// FirmwareRange is a semver range expression ("1.2.0" or
	// "1.0.0-2.0.0") gating which device firmware this pack revision
	// applies to. Empty means unconditional.
	FirmwareRange string `yaml:"firmware_range,omitempty"`
}

// Applies reports whether this pack should be loaded for the gateway's
// configured firmware version: unconditional if FirmwareRange or
// firmwareVersion is empty, otherwise gated via semver.Satisfies.
func (pc TemplatePackConfig) Applies(firmwareVersion string) (bool, error) {
	if pc.FirmwareRange == "" || firmwareVersion == "" {
		return true, nil
	}
	return semver.Satisfies(firmwareVersion, pc.FirmwareRange)
}

// UIConfig stores terminal dashboard preferences.
type UIConfig struct {
	Theme     string `yaml:"theme,omitempty"`
	ASCIIMode bool   `yaml:"ascii_mode,omitempty"`
}

// WebConfig holds the gateway's HTTP API/dashboard server configuration.
type WebConfig struct {
	Enabled bool         `yaml:"enabled"`
	Host    string       `yaml:"host"`
	Port    int          `yaml:"port"`
	API     WebAPIConfig `yaml:"api"`
	UI      WebUIConfig  `yaml:"ui"`
}

// WebAPIConfig holds REST decode/compose endpoint settings.
type WebAPIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebUIConfig holds browser UI session settings.
type WebUIConfig struct {
	Enabled       bool      `yaml:"enabled"`
	SessionSecret string    `yaml:"session_secret,omitempty"`
	Users         []WebUser `yaml:"users,omitempty"`
}

// WebUser represents a web dashboard user.
type WebUser struct {
	Username           string `yaml:"username"`
	PasswordHash       string `yaml:"password_hash"` // bcrypt
	Role               string `yaml:"role"`           // "admin" or "viewer"
	MustChangePassword bool   `yaml:"must_change_password,omitempty"`
}

// Web user roles.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// MQTTSourceConfig holds a broker connection feeding raw message bytes into
// the dispatcher (spec.md's ingest boundary).
type MQTTSourceConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeySinkConfig holds a Valkey/Redis connection decoded messages fan out
// to.
type ValkeySinkConfig struct {
	Name     string        `yaml:"name"`
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password,omitempty"`
	Database int           `yaml:"database"`
	Selector string        `yaml:"selector,omitempty"`
	UseTLS   bool          `yaml:"use_tls,omitempty"`
	KeyTTL   time.Duration `yaml:"key_ttl,omitempty"`
}

// KafkaSinkConfig holds a Kafka cluster connection decoded messages fan out
// to.
type KafkaSinkConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"`
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`
	Compression   string        `yaml:"compression,omitempty"` // none, gzip, snappy, lz4, zstd
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TemplatePacks: []TemplatePackConfig{},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			API:     WebAPIConfig{Enabled: true},
			UI:      WebUIConfig{Enabled: true},
		},
		MQTTSources: []MQTTSourceConfig{},
		Kafka:       []KafkaSinkConfig{},
		Valkey:      []ValkeySinkConfig{},
	}
}

// DefaultPath returns the default configuration file path (~/.tagwire/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".tagwire", "config.yaml")
}

// Load reads configuration from a YAML file, creating one with defaults if
// it does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	dirty := false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		dirty = true
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Web.UI.SessionSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		cfg.Web.UI.SessionSecret = base64.StdEncoding.EncodeToString(secret)
		dirty = true
	}

	if dirty {
		_ = cfg.Save(path)
	}

	return cfg, nil
}

// AddOnChangeListener registers a callback invoked (in its own goroutine)
// whenever the config is saved. Returns an ID for RemoveOnChangeListener.
func (c *Config) AddOnChangeListener(cb func()) ListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ListenerID]func())
	}
	id := ListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies listeners.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies. The
// caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// FindMQTTSource returns the MQTT source config with the given name.
func (c *Config) FindMQTTSource(name string) *MQTTSourceConfig {
	for i := range c.MQTTSources {
		if c.MQTTSources[i].Name == name {
			return &c.MQTTSources[i]
		}
	}
	return nil
}

// FindKafkaSink returns the Kafka sink config with the given name.
func (c *Config) FindKafkaSink(name string) *KafkaSinkConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// FindValkeySink returns the Valkey sink config with the given name.
func (c *Config) FindValkeySink(name string) *ValkeySinkConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// FindWebUser returns the web user with the given username.
func (c *Config) FindWebUser(username string) *WebUser {
	for i := range c.Web.UI.Users {
		if c.Web.UI.Users[i].Username == username {
			return &c.Web.UI.Users[i]
		}
	}
	return nil
}

// AddWebUser adds a new web user.
func (c *Config) AddWebUser(user WebUser) {
	c.Web.UI.Users = append(c.Web.UI.Users, user)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, underscores and dots")
	}
	return nil
}

// IsValidNamespace reports whether ns is a legal namespace string.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
