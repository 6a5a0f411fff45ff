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

// Package server drives MCP sessions: it reads messages from a transport
// session, runs them through the middleware pipeline, dispatches each one
// as a tracked task, and manages graceful and forced shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/datacache"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/middleware"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/protocol"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/tools"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/transport"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

var (
	// ErrServerStopped is returned when a stopped server is asked to start or run.
	ErrServerStopped = errors.New("server stopped")

	// ErrInvalidState is returned for a lifecycle call made in the wrong state.
	ErrInvalidState = errors.New("invalid server state")
)

// State is the lifecycle position of a Server.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateConnected
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MethodHandler processes the params of one JSON-RPC method. A nil result
// on a request is sent as an empty object. Returning a *protocol.Error
// preserves its code.
type MethodHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server is an MCP server bound to one tools Manager.
type Server struct {
	info         protocol.Implementation
	instructions string
	tools        *tools.Manager
	pipeline     *middleware.Pipeline
	cache        *datacache.Client
	toolEnv      map[string]string
	logger       *zap.Logger
	tracker      *TaskTracker

	handlersMu sync.RWMutex
	handlers   map[string]MethodHandler

	mu            sync.Mutex
	state         State
	session       transport.Session
	stopReceiving context.CancelFunc
	clientInfo    *protocol.Implementation

	shouldExit atomic.Bool
	forced     chan struct{}
	forceOnce  sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPipeline sets the middleware pipeline applied to every message.
func WithPipeline(p *middleware.Pipeline) Option {
	return func(s *Server) {
		if p != nil {
			s.pipeline = p
		}
	}
}

// WithDatacache enables datacache for tools that declare keys. Without it
// such tools fail with a lock-backend-unavailable error.
func WithDatacache(c *datacache.Client) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(text string) Option {
	return func(s *Server) {
		s.instructions = text
	}
}

// WithToolEnvironment sets the values tools may read as secrets.
func WithToolEnvironment(env map[string]string) Option {
	return func(s *Server) {
		s.toolEnv = env
	}
}

// NewServer creates a server that serves the tools in mgr.
func NewServer(name, version string, mgr *tools.Manager, opts ...Option) *Server {
	s := &Server{
		info:     protocol.Implementation{Name: name, Version: version},
		tools:    mgr,
		logger:   zap.NewNop(),
		tracker:  NewTaskTracker(),
		handlers: make(map[string]MethodHandler),
		toolEnv:  map[string]string{},
		forced:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("mcp.server")
	if s.pipeline == nil {
		s.pipeline = middleware.NewPipeline(middleware.WithLogger(s.logger))
	}

	s.RegisterHandler(protocol.MethodInitialize, s.handleInitialize)
	s.RegisterHandler(protocol.MethodInitialized, s.handleInitialized)
	s.RegisterHandler(protocol.MethodPing, s.handlePing)
	s.RegisterHandler(protocol.MethodToolsList, s.handleToolsList)
	s.RegisterHandler(protocol.MethodToolsCall, s.handleToolsCall)
	s.RegisterHandler(protocol.MethodCancelled, s.handleCancelled)

	mgr.OnChange(s.notifyToolsChanged)
	return s
}

// RegisterHandler registers or replaces the handler for method.
func (s *Server) RegisterHandler(method string, handler MethodHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[method] = handler
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ShouldExit reports whether a drain or forced stop was requested.
func (s *Server) ShouldExit() bool {
	return s.shouldExit.Load()
}

// InFlight returns the number of requests being handled.
func (s *Server) InFlight() int {
	return s.tracker.Len()
}

// transitionLocked moves to the target state if the current state is one of from.
func (s *Server) transitionLocked(to State, from ...State) error {
	if s.state == StateStopped {
		return ErrServerStopped
	}
	for _, f := range from {
		if s.state == f {
			s.logger.Debug("server state change", zap.Stringer("from", s.state), zap.Stringer("to", to))
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, s.state, to)
}

// Start prepares the server. It does not touch any transport.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StateStarted, StateCreated); err != nil {
		return err
	}
	s.logger.Info("MCP server started",
		zap.String("name", s.info.Name),
		zap.String("version", s.info.Version),
		zap.Int("tools", s.tools.Len()),
	)
	return nil
}

// Run serves sess until the stream ends, ctx is done, or Drain is called.
// In-flight requests finish before Run returns unless ForceStop is called.
// A receive failure other than end of stream is returned as a transport
// failure.
func (s *Server) Run(ctx context.Context, sess transport.Session) error {
	recvCtx, stop := context.WithCancel(ctx)
	defer stop()

	s.mu.Lock()
	if s.state == StateDraining && s.shouldExit.Load() {
		s.mu.Unlock()
		return nil
	}
	if err := s.transitionLocked(StateConnected, StateStarted); err != nil {
		s.mu.Unlock()
		return err
	}
	s.session = sess
	s.stopReceiving = stop
	_ = s.transitionLocked(StateRunning, StateConnected)
	s.mu.Unlock()

	opts := sess.InitOptions()
	s.logger.Info("MCP session running",
		zap.String("session_id", sess.ID()),
		zap.String("transport", opts.Transport),
	)

	// Task contexts outlive the receive loop so draining lets them finish.
	taskBase := context.WithoutCancel(ctx)

	var runErr error
	for {
		in, err := sess.Receive(recvCtx)
		if err != nil {
			if recvCtx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrClosed) {
				s.logger.Error("receive failed", zap.Error(err))
				runErr = toolerr.NewTransportFailure("receive failed", err)
			}
			break
		}
		s.dispatch(taskBase, in)
	}

	s.mu.Lock()
	if s.state == StateRunning {
		_ = s.transitionLocked(StateDraining, StateRunning)
	}
	s.session = nil
	s.stopReceiving = nil
	s.mu.Unlock()
	s.tracker.Close()

	if n := s.tracker.Len(); n > 0 {
		s.logger.Info("waiting for in-flight requests", zap.Int("in_flight", n))
	}
	select {
	case <-s.tracker.Idle():
	case <-s.forced:
	}
	s.logger.Info("MCP session ended", zap.String("session_id", sess.ID()))
	return runErr
}

// Drain stops accepting messages and lets in-flight requests finish.
func (s *Server) Drain() {
	s.shouldExit.Store(true)

	s.mu.Lock()
	if s.state != StateStopped && s.state != StateCreated {
		s.state = StateDraining
	}
	stop := s.stopReceiving
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.logger.Info("draining MCP server", zap.Int("in_flight", s.tracker.Len()))
}

// ForceStop cancels every in-flight request without waiting for them and
// returns how many were cancelled.
func (s *Server) ForceStop() int {
	s.Drain()
	n := s.tracker.CancelAll()
	s.forceOnce.Do(func() { close(s.forced) })
	s.logger.Warn("force stopping MCP server", zap.Int("cancelled_tasks", n))
	return n
}

// Stop moves the server to its terminal state. Requests still in flight are
// given until ctx is done and then cancelled.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	stop := s.stopReceiving
	s.mu.Unlock()

	s.shouldExit.Store(true)
	if stop != nil {
		stop()
	}
	s.tracker.Close()
	if err := s.tracker.Wait(ctx); err != nil {
		n := s.tracker.CancelAll()
		s.logger.Warn("cancelled requests still running at stop", zap.Int("cancelled_tasks", n))
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// dispatch parses in and hands it to a tracked goroutine.
func (s *Server) dispatch(base context.Context, in *transport.Inbound) {
	msg, err := protocol.ParseMessage(in.Data)
	if err != nil {
		s.logger.Warn("failed to parse message", zap.Error(err))
		s.reply(base, in, protocol.NewErrorMessage(nil, protocol.NewError(protocol.ParseError, "invalid JSON", nil)))
		return
	}
	if msg.IsResponse() {
		s.logger.Debug("ignoring client response", zap.Stringer("id", msg.ID))
		_ = in.Reply(base, nil)
		return
	}

	ctx := transport.ContextWithSessionID(base, in.SessionID)
	key := TaskKey{SessionID: in.SessionID, RequestID: msg.ID.Key()}
	task, ok := s.tracker.Start(ctx, key, msg.Method)
	if !ok {
		s.reply(base, in, s.errorResponse(msg, protocol.NewError(protocol.InternalError, "server is shutting down", nil)))
		return
	}
	go func() {
		defer task.Done()
		s.serve(task.Context(), in, msg)
	}()
}

// serve runs one message through the pipeline and its handler. A panic is
// a programming error: it is logged with its stack and answered with an
// internal error, never swallowed silently.
func (s *Server) serve(ctx context.Context, in *transport.Inbound, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling message",
				zap.String("method", msg.Method),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.reply(ctx, in, s.errorResponse(msg, protocol.NewError(protocol.InternalError, "internal error", nil)))
		}
	}()

	req := s.pipeline.ProcessRequest(ctx, msg)
	if req == nil {
		req = msg
	}
	resp := s.handle(ctx, req)
	if resp != nil {
		if processed := s.pipeline.ProcessResponse(ctx, resp); processed != nil {
			resp = processed
		}
	}
	if ctx.Err() != nil && resp != nil {
		s.logger.Debug("request cancelled, dropping response", zap.String("method", msg.Method))
		resp = nil
	}
	s.reply(ctx, in, resp)
}

// handle routes msg to its handler. It returns nil for notifications.
func (s *Server) handle(ctx context.Context, msg *protocol.Message) *protocol.Message {
	if err := protocol.ValidateMessage(msg); err != nil {
		return s.errorResponse(msg, protocol.NewError(protocol.InvalidRequest, err.Error(), nil))
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[msg.Method]
	s.handlersMu.RUnlock()
	if !ok {
		return s.errorResponse(msg, protocol.NewError(protocol.MethodNotFound, fmt.Sprintf("method not found: %s", msg.Method), nil))
	}

	start := time.Now()
	result, err := handler(ctx, msg.Params)
	if err != nil {
		s.logger.Warn("handler error",
			zap.String("method", msg.Method),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return s.errorResponse(msg, rpcError(err))
	}
	if msg.IsNotification() {
		return nil
	}
	if result == nil {
		result = struct{}{}
	}
	resp, err := protocol.NewResultMessage(msg.ID, result)
	if err != nil {
		return s.errorResponse(msg, protocol.NewError(protocol.InternalError, err.Error(), nil))
	}
	return resp
}

// errorResponse answers msg with rpcErr, or returns nil for notifications.
func (s *Server) errorResponse(msg *protocol.Message, rpcErr *protocol.Error) *protocol.Message {
	if msg != nil && msg.IsNotification() {
		return nil
	}
	var id *protocol.RequestID
	if msg != nil {
		id = msg.ID
	}
	return protocol.NewErrorMessage(id, rpcErr)
}

// rpcError converts a handler error to a JSON-RPC error.
func rpcError(err error) *protocol.Error {
	var rpcErr *protocol.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if toolerr.IsNotFound(err) {
		return protocol.NewError(protocol.MethodNotFound, err.Error(), nil)
	}
	if toolerr.IsInvalidInput(err) {
		return protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}
	return protocol.NewError(protocol.InternalError, err.Error(), nil)
}

func (s *Server) reply(ctx context.Context, in *transport.Inbound, resp *protocol.Message) {
	var body []byte
	if resp != nil {
		raw, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to marshal response", zap.Error(err))
			raw, _ = json.Marshal(protocol.NewErrorMessage(resp.ID, protocol.NewError(protocol.InternalError, "failed to marshal response", nil)))
		}
		body = raw
	}
	if err := in.Reply(ctx, body); err != nil && !errors.Is(err, transport.ErrAlreadyReplied) {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

// notifyToolsChanged tells the connected client the tool list changed.
func (s *Server) notifyToolsChanged() {
	s.mu.Lock()
	sess, state := s.session, s.state
	s.mu.Unlock()
	if sess == nil || state != StateRunning {
		return
	}
	msg, err := protocol.NewNotificationMessage(protocol.MethodToolsListChanged, nil)
	if err != nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := sess.Send(context.Background(), raw); err != nil {
		s.logger.Warn("failed to send tools/list_changed", zap.Error(err))
	}
}

// ClientInfo returns what the client reported at initialize, nil before.
func (s *Server) ClientInfo() *protocol.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}
