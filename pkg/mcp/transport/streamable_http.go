// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SessionHeader carries the MCP session id on every request after initialize.
const SessionHeader = "Mcp-Session-Id"

const (
	// DefaultSessionTTL is how long an idle HTTP session survives.
	DefaultSessionTTL = 30 * time.Minute

	// DefaultMaxSessions caps concurrently open HTTP sessions.
	DefaultMaxSessions = 1000

	// DefaultMaxQueueSize caps requests waiting for the server loop.
	DefaultMaxQueueSize = 1000

	// DefaultPath is where the MCP endpoint is mounted.
	DefaultPath = "/mcp"

	readHeaderTimeout = 10 * time.Second
)

// HTTPConfig configures the streamable HTTP transport.
type HTTPConfig struct {
	Host string
	Port int
	Path string

	// SessionTTL expires idle sessions; 0 disables expiry.
	SessionTTL time.Duration
	// CleanupInterval is how often expiry runs; it defaults to half the TTL.
	CleanupInterval time.Duration

	MaxSessions  int
	MaxQueueSize int
	MaxBodyBytes int64

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	Logger *zap.Logger
}

func (c *HTTPConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.SessionTTL < 0 {
		c.SessionTTL = 0
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxMessageBytes
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// StreamableHTTPTransport serves MCP over a single POST endpoint. Each POST
// carries one JSON-RPC message and is answered with JSON, or 202 when the
// message needs no response.
//
// Security: there is no authentication. Bind to localhost; see
// WarnIfNotLocalhost.
type StreamableHTTPTransport struct {
	cfg    HTTPConfig
	logger *zap.Logger
	router chi.Router

	inbox   chan *queued
	stopped chan struct{}

	mu       sync.RWMutex
	sessions map[string]*httpSession
	listener net.Listener
	server   *http.Server
	group    *errgroup.Group
	cancel   context.CancelFunc
	active   *httpStream

	stopOnce sync.Once
}

type httpSession struct {
	id           string
	lastActivity time.Time
}

// NewStreamableHTTPTransport builds the transport and its router.
func NewStreamableHTTPTransport(cfg HTTPConfig) *StreamableHTTPTransport {
	cfg.applyDefaults()
	t := &StreamableHTTPTransport{
		cfg:      cfg,
		logger:   cfg.Logger.Named("transport.http"),
		inbox:    make(chan *queued, cfg.MaxQueueSize),
		stopped:  make(chan struct{}),
		sessions: make(map[string]*httpSession),
	}
	t.router = t.routes()
	return t
}

func (t *StreamableHTTPTransport) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(t.cfg.Path, t.handlePost)
	r.Delete(t.cfg.Path, t.handleDelete)
	r.Get("/health", t.handleHealth)
	if t.cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(t.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (t *StreamableHTTPTransport) Name() string { return "http" }

// Handler exposes the router, for mounting under another server.
func (t *StreamableHTTPTransport) Handler() http.Handler {
	return t.router
}

// Start binds the listener and serves until Stop.
func (t *StreamableHTTPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isStopped() {
		return ErrClosed
	}
	if t.listener != nil {
		return fmt.Errorf("http transport already started")
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	WarnIfNotLocalhost(t.logger, addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	srv := &http.Server{
		Handler:           t.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	if t.cfg.SessionTTL > 0 {
		g.Go(func() error {
			t.cleanupLoop(gctx)
			return nil
		})
	}

	t.listener = ln
	t.server = srv
	t.group = g
	t.cancel = cancel
	t.logger.Info("MCP HTTP transport listening", zap.String("addr", ln.Addr().String()), zap.String("path", t.cfg.Path))
	return nil
}

// Addr returns the bound address, nil before Start.
func (t *StreamableHTTPTransport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// ConnectSession returns the stream that multiplexes every HTTP client.
// Replies find their caller through the Inbound, so one stream serves all
// Mcp-Session-Id sessions.
func (t *StreamableHTTPTransport) ConnectSession(ctx context.Context) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.isStopped():
		return nil, ErrClosed
	case t.listener == nil:
		return nil, ErrNotStarted
	case t.active != nil && !t.active.isClosed():
		return nil, ErrSessionActive
	}
	t.active = &httpStream{id: uuid.NewString(), t: t, done: make(chan struct{}), draining: make(chan struct{})}
	return t.active, nil
}

// stream returns the connected stream, nil before ConnectSession.
func (t *StreamableHTTPTransport) stream() *httpStream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// Stop shuts the server down and fails pending requests.
func (t *StreamableHTTPTransport) Stop(ctx context.Context) error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopped)

		t.mu.Lock()
		srv, g, cancel, active := t.server, t.group, t.cancel, t.active
		t.mu.Unlock()

		if active != nil {
			_ = active.Close()
		}
		if srv != nil {
			if serr := srv.Shutdown(ctx); serr != nil {
				err = fmt.Errorf("http shutdown: %w", serr)
			}
		}
		if cancel != nil {
			cancel()
		}
		if g != nil {
			if gerr := g.Wait(); gerr != nil && err == nil {
				err = gerr
			}
		}
		t.logger.Info("MCP HTTP transport stopped")
	})
	return err
}

func (t *StreamableHTTPTransport) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

type postReply struct {
	body []byte
}

// queued is an inbound message waiting in the inbox. Exactly one of the
// stream (take) and the waiting POST (reject) wins it.
type queued struct {
	in    *Inbound
	state atomic.Int32
}

const (
	queuedWaiting int32 = iota
	queuedTaken
	queuedRejected
)

func (q *queued) take() bool   { return q.state.CompareAndSwap(queuedWaiting, queuedTaken) }
func (q *queued) reject() bool { return q.state.CompareAndSwap(queuedWaiting, queuedRejected) }

func (t *StreamableHTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "application/json" {
			http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, t.cfg.MaxBodyBytes+1))
	if err != nil {
		t.logger.Error("failed to read request body", zap.Error(err))
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > t.cfg.MaxBodyBytes {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "Empty request body", http.StatusBadRequest)
		return
	}

	stream := t.stream()
	if t.isStopped() || (stream != nil && !stream.accepting()) {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	isInit := sessionID == "" && isInitializeRequest(body)
	switch {
	case sessionID != "":
		if !t.touch(sessionID) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
	case !isInit:
		http.Error(w, SessionHeader+" header required", http.StatusBadRequest)
		return
	default:
		sessionID, err = t.openSession()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}

	replies := make(chan postReply, 1)
	in := NewInbound(body, sessionID, func(ctx context.Context, out []byte) error {
		replies <- postReply{body: out}
		return nil
	})

	q := &queued{in: in}
	select {
	case t.inbox <- q:
	default:
		if isInit {
			t.closeSession(sessionID)
		}
		t.logger.Warn("MCP HTTP queue full, rejecting request", zap.Int("max_queue_size", t.cfg.MaxQueueSize))
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	var draining <-chan struct{}
	if stream != nil {
		draining = stream.draining
	}
	for {
		select {
		case reply := <-replies:
			if isInit {
				w.Header().Set(SessionHeader, sessionID)
			}
			if reply.body == nil {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(reply.body)
			return
		case <-draining:
			// Still queued when the stream stopped receiving: nobody will
			// read it. Once taken, the reply is on its way.
			draining = nil
			if q.reject() {
				if isInit {
					t.closeSession(sessionID)
				}
				http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
				return
			}
		case <-r.Context().Done():
			t.logger.Debug("client went away before the response was ready", zap.String("session_id", sessionID))
			return
		case <-t.stopped:
			http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
			return
		}
	}
}

func (t *StreamableHTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, SessionHeader+" header required", http.StatusBadRequest)
		return
	}
	if !t.closeSession(sessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	t.logger.Info("session terminated", zap.String("session_id", sessionID))
	w.WriteHeader(http.StatusOK)
}

func (t *StreamableHTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if t.isStopped() {
		status, code = "stopping", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"sessions": t.SessionCount(),
	})
}

func (t *StreamableHTTPTransport) openSession() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) >= t.cfg.MaxSessions {
		return "", fmt.Errorf("session limit of %d reached", t.cfg.MaxSessions)
	}
	id := uuid.NewString()
	t.sessions[id] = &httpSession{id: id, lastActivity: time.Now()}
	t.logger.Info("created new session", zap.String("session_id", id))
	return id, nil
}

func (t *StreamableHTTPTransport) touch(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[id]
	if ok {
		sess.lastActivity = time.Now()
	}
	return ok
}

func (t *StreamableHTTPTransport) closeSession(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[id]
	delete(t.sessions, id)
	return ok
}

// SessionCount returns the number of open HTTP sessions.
func (t *StreamableHTTPTransport) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *StreamableHTTPTransport) cleanupLoop(ctx context.Context) {
	interval := t.cfg.CleanupInterval
	if interval <= 0 {
		interval = t.cfg.SessionTTL / 2
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.expireSessions(now)
		}
	}
}

// expireSessions drops sessions idle for longer than the TTL.
func (t *StreamableHTTPTransport) expireSessions(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, sess := range t.sessions {
		if now.Sub(sess.lastActivity) > t.cfg.SessionTTL {
			delete(t.sessions, id)
			n++
			t.logger.Info("session expired", zap.String("session_id", id))
		}
	}
	return n
}

func isInitializeRequest(body []byte) bool {
	var req struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return false
	}
	return req.Method == "initialize"
}

// httpStream is the Session view of the transport's inbox.
type httpStream struct {
	id   string
	t    *StreamableHTTPTransport
	done chan struct{}
	// draining is closed when the server stops calling Receive.
	draining  chan struct{}
	drainOnce sync.Once
	closeOnce sync.Once
}

func (s *httpStream) ID() string { return s.id }

func (s *httpStream) InitOptions() InitOptions {
	return InitOptions{Transport: "http", MaxMessageBytes: s.t.cfg.MaxBodyBytes}
}

// Receive returns the next queued message. Once ctx is done the stream
// stops accepting new POSTs, since a cancelled receive loop does not
// come back.
func (s *httpStream) Receive(ctx context.Context) (*Inbound, error) {
	for {
		if s.isClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			s.stopReceiving()
			return nil, err
		}
		select {
		case <-ctx.Done():
			s.stopReceiving()
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrClosed
		case <-s.t.stopped:
			return nil, ErrClosed
		case q := <-s.t.inbox:
			if q.take() {
				return q.in, nil
			}
		}
	}
}

func (s *httpStream) stopReceiving() {
	s.drainOnce.Do(func() { close(s.draining) })
}

func (s *httpStream) accepting() bool {
	select {
	case <-s.draining:
		return false
	case <-s.done:
		return false
	default:
		return true
	}
}

// Send has no stream to write to: responses travel on their POST and no
// standalone GET stream is offered, so server-initiated messages are dropped.
func (s *httpStream) Send(ctx context.Context, message []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.t.logger.Debug("dropping server-initiated message on http transport", zap.Int("bytes", len(message)))
	return nil
}

func (s *httpStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *httpStream) Close() error {
	s.stopReceiving()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// WarnIfNotLocalhost logs a warning when addr binds beyond loopback. The
// transport has no authentication.
func WarnIfNotLocalhost(logger *zap.Logger, addr string) {
	if logger == nil {
		return
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	switch host {
	case "127.0.0.1", "::1", "localhost":
		return
	case "", "0.0.0.0", "::":
		logger.Warn("MCP HTTP transport binding to all interfaces - this is INSECURE",
			zap.String("addr", addr),
			zap.String("recommendation", "bind to 127.0.0.1 or ::1 for localhost-only access"),
		)
	default:
		logger.Warn("MCP HTTP transport binding to non-localhost address - this is INSECURE",
			zap.String("addr", addr),
			zap.String("recommendation", "bind to 127.0.0.1 or ::1 for localhost-only access"),
		)
	}
}
