package tui

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foundryfieldworks/tagwire/internal/obslog"
)

// LogMessage represents a single log entry in the debug store.
type LogMessage struct {
	Timestamp time.Time
	Component string // "mqttsrc", "kafkasink", "valkeysink", "webapi", "dispatch", ""
	Message   string
}

// LogStoreListenerID is a unique identifier for a log store subscriber.
type LogStoreListenerID string

// LogStore is a shared store for log messages that supports multiple
// subscribers, feeding the Debug tab's scrollback.
type LogStore struct {
	messages    []LogMessage
	mu          sync.RWMutex
	maxLines    int
	listeners   map[LogStoreListenerID]func(LogMessage)
	listenersMu sync.RWMutex
	counter     uint64
	fileLogger  *obslog.FileLogger
}

var globalLogStore *LogStore
var storeOnce sync.Once

// InitLogStore initializes the global log store with the specified max
// lines. Call once at startup.
func InitLogStore(maxLines int) {
	storeOnce.Do(func() {
		globalLogStore = &LogStore{
			messages:  make([]LogMessage, 0),
			maxLines:  maxLines,
			listeners: make(map[LogStoreListenerID]func(LogMessage)),
		}
	})
}

// GetLogStore returns the global log store instance, or nil if
// InitLogStore has not been called.
func GetLogStore() *LogStore {
	return globalLogStore
}

// Log adds a message to the store and notifies all subscribers.
func (s *LogStore) Log(component, format string, args ...interface{}) {
	msg := LogMessage{
		Timestamp: time.Now(),
		Component: component,
		Message:   fmt.Sprintf(format, args...),
	}

	if s.fileLogger != nil {
		s.fileLogger.Log("%s", msg.Message)
	}

	if !s.mu.TryLock() {
		return // drop rather than block
	}
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.maxLines {
		s.messages = s.messages[len(s.messages)-s.maxLines:]
	}
	s.mu.Unlock()

	s.listenersMu.RLock()
	listeners := make([]func(LogMessage), 0, len(s.listeners))
	for _, cb := range s.listeners {
		listeners = append(listeners, cb)
	}
	s.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb(msg)
	}
}

// Subscribe registers a callback to receive new log messages.
func (s *LogStore) Subscribe(cb func(LogMessage)) LogStoreListenerID {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := LogStoreListenerID(fmt.Sprintf("debug-%d", atomic.AddUint64(&s.counter, 1)))
	s.listeners[id] = cb
	return id
}

// Unsubscribe removes a previously registered subscriber.
func (s *LogStore) Unsubscribe(id LogStoreListenerID) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	delete(s.listeners, id)
}

// Messages returns a copy of all messages in the store.
func (s *LogStore) Messages() []LogMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]LogMessage, len(s.messages))
	copy(result, s.messages)
	return result
}

// Clear removes all messages from the store.
func (s *LogStore) Clear() {
	s.mu.Lock()
	s.messages = make([]LogMessage, 0)
	s.mu.Unlock()
}

// SetFileLogger sets a file logger for persisting log messages to disk.
func (s *LogStore) SetFileLogger(logger *obslog.FileLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileLogger = logger
}

// StoreLog logs a message to the global log store if initialized.
func StoreLog(component, format string, args ...interface{}) {
	if globalLogStore != nil {
		globalLogStore.Log(component, format, args...)
	}
}
