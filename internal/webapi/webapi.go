// Package webapi exposes the gateway's decode pipeline over HTTP: a
// status/inspection REST API plus a cookie-session-gated admin endpoint
// for reloading the template pack.
package webapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"github.com/foundryfieldworks/tagwire/internal/config"
	"github.com/foundryfieldworks/tagwire/internal/obslog"
	"github.com/foundryfieldworks/tagwire/internal/parser"
)

// TemplateInfo summarizes one registered template's field shape for the
// /templates inspection endpoint.
type TemplateInfo struct {
	Name              string   `json:"name"`
	FieldCount        int      `json:"fieldCount"`
	EvaluatedFields   []string `json:"evaluatedFields,omitempty"`
	PostProcessFields []string `json:"postProcessFields,omitempty"`
	HasChecksum       bool     `json:"hasChecksum"`
}

const sessionName = "tagwire_admin"

// RecentEntry is one decoded message kept in the server's ring buffer for
// the /messages/recent endpoint.
type RecentEntry struct {
	Offset    int         `json:"offset"`
	TypeName  string      `json:"type,omitempty"`
	Object    interface{} `json:"object,omitempty"`
	Err       string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RecentBuffer is a fixed-capacity ring buffer of recently decoded
// messages, fed by the ingest pipeline and read by the status API.
type RecentBuffer struct {
	mu       sync.RWMutex
	entries  []RecentEntry
	capacity int
}

// NewRecentBuffer creates a buffer holding up to capacity entries.
func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &RecentBuffer{capacity: capacity}
}

// Push records a new entry, evicting the oldest if the buffer is full.
func (b *RecentBuffer) Push(e RecentEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[len(b.entries)-b.capacity:]
	}
}

// Snapshot returns a copy of the current buffer contents, newest last.
func (b *RecentBuffer) Snapshot() []RecentEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]RecentEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Server is the gateway's HTTP status/inspection server.
type Server struct {
	cfg     config.WebConfig
	parser  *parser.Parser
	recent  *RecentBuffer
	store   *sessions.CookieStore
	users   func(username string) *config.WebUser
	server  *http.Server
	router  chi.Router
	running bool
	mu      sync.RWMutex

	reloadFunc func() error
}

// New creates a server bound to p for decode/compose and recent for the
// message history endpoint. usersFn resolves a web dashboard user by
// username for login; reloadFn is invoked by the protected reload
// endpoint to pick up a fresh template pack.
func New(cfg config.WebConfig, p *parser.Parser, recent *RecentBuffer, usersFn func(string) *config.WebUser, reloadFn func() error) *Server {
	s := &Server{
		cfg:        cfg,
		parser:     p,
		recent:     recent,
		store:      sessions.NewCookieStore([]byte(cfg.UI.SessionSecret)),
		users:      usersFn,
		reloadFunc: reloadFn,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealthz)

	if s.cfg.API.Enabled {
		r.Route("/api", func(api chi.Router) {
			api.Get("/templates", s.handleTemplates)
			api.Get("/messages/recent", s.handleRecentMessages)
			api.Post("/decode", s.handleDecode)
			api.Post("/compose", s.handleCompose)
		})
	}

	if s.cfg.UI.Enabled {
		r.Post("/login", s.handleLogin)
		r.Group(func(admin chi.Router) {
			admin.Use(s.requireSession)
			admin.Post("/admin/reload", s.handleReload)
		})
	}

	s.router = r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	names := s.parser.TemplateNames()
	infos := make([]TemplateInfo, 0, len(names))
	for _, name := range names {
		tmpl, ok := s.parser.TemplateByName(name)
		if !ok {
			continue
		}
		info := TemplateInfo{
			Name:        name,
			FieldCount:  len(tmpl.Fields),
			HasChecksum: tmpl.ChecksumField != nil,
		}
		for _, f := range tmpl.EvaluatedFields {
			info.EvaluatedFields = append(info.EvaluatedFields, f.Name)
		}
		for _, f := range tmpl.PostProcessFields {
			info.PostProcessFields = append(info.PostProcessFields, f.Name)
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": infos})
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": s.recent.Snapshot()})
}

// handleDecode accepts a raw binary body (or a {"hex": "..."} JSON body)
// and returns the decoded messages found in it.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	data, err := readFrameBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp := s.parser.Parse(data)
	entries := make([]RecentEntry, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		entry := RecentEntry{Offset: m.Offset, Timestamp: time.Now().UTC()}
		if m.Err != nil {
			entry.Err = m.Err.Error()
		} else {
			entry.Object = m.Object
			entry.TypeName = typeNameOf(m.Object)
		}
		entries = append(entries, entry)
		if s.recent != nil {
			s.recent.Push(entry)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": entries})
}

// decodeComposeRequest is the body accepted by /api/compose.
type decodeComposeRequest struct {
	TypeName string          `json:"type"`
	Object   json.RawMessage `json:"object"`
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req decodeComposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	tmpl, ok := s.parser.TemplateByName(req.TypeName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown template %q", req.TypeName)})
		return
	}

	obj := newOfType(tmpl)
	if err := json.Unmarshal(req.Object, obj); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	composed := s.parser.Compose(obj)
	if composed.Err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": composed.Err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hex": hex.EncodeToString(composed.Bytes)})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	user := s.users(req.Username)
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	session, _ := s.store.Get(r, sessionName)
	session.Values["username"] = user.Username
	session.Values["role"] = user.Role
	if err := session.Save(r, w); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.store.Get(r, sessionName)
		if err != nil || session.Values["username"] == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login required"})
			return
		}
		if role, _ := session.Values["role"].(string); role != config.RoleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloadFunc == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "reload not configured"})
		return
	}
	if err := s.reloadFunc(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// debugLogWriter adapts obslog.DebugLog to an io.Writer for http.Server's
// ErrorLog.
type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (n int, err error) {
	obslog.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

var _ io.Writer = debugLogWriter("")

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("webapi"), "", 0),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning reports whether the server is currently serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server's base URL.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readFrameBody(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "application/json" {
		var body struct {
			Hex string `json:"hex"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, err
		}
		return hex.DecodeString(body.Hex)
	}
	return io.ReadAll(r.Body)
}
