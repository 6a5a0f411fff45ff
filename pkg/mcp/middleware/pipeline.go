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

// Package middleware implements the message pipeline that every inbound
// request and outbound response passes through.
//
// A failing stage never blocks delivery: its error (or panic) is logged and
// the fold continues with the last message that a stage produced successfully.
package middleware

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/protocol"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

// Direction tells a stage which way a message is flowing.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Middleware transforms a message. Return msg (edited or not) or a new
// message; returning nil with a nil error means no change.
type Middleware interface {
	Name() string
	Process(ctx context.Context, dir Direction, msg *protocol.Message) (*protocol.Message, error)
}

// ProcessFunc is the signature of a function-backed middleware.
type ProcessFunc func(ctx context.Context, dir Direction, msg *protocol.Message) (*protocol.Message, error)

type funcMiddleware struct {
	name string
	fn   ProcessFunc
}

// New wraps fn as a Middleware. Each call returns a distinct middleware, so
// registering the returned value twice is deduplicated while two calls with
// the same function are not.
func New(name string, fn ProcessFunc) Middleware {
	return &funcMiddleware{name: name, fn: fn}
}

func (f *funcMiddleware) Name() string { return f.name }

func (f *funcMiddleware) Process(ctx context.Context, dir Direction, msg *protocol.Message) (*protocol.Message, error) {
	return f.fn(ctx, dir, msg)
}

// Pipeline is an ordered, deduplicated chain of middleware.
type Pipeline struct {
	mu      sync.RWMutex
	stages  []Middleware
	enabled bool
	logger  *zap.Logger
	onFail  func(stage string, dir Direction, err error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for stage failures.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithEnabled turns processing on or off. A disabled pipeline returns every
// message unchanged.
func WithEnabled(enabled bool) Option {
	return func(p *Pipeline) {
		p.enabled = enabled
	}
}

// WithFailureHook calls fn for every isolated stage failure.
func WithFailureHook(fn func(stage string, dir Direction, err error)) Option {
	return func(p *Pipeline) {
		p.onFail = fn
	}
}

// NewPipeline creates an enabled, empty pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		enabled: true,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enabled reports whether the pipeline processes messages.
func (p *Pipeline) Enabled() bool {
	return p.enabled
}

// Add appends mw. It returns false when the same middleware value is
// already registered.
func (p *Pipeline) Add(mw Middleware) bool {
	if mw == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.stages {
		if sameMiddleware(existing, mw) {
			return false
		}
	}
	p.stages = append(p.stages, mw)
	return true
}

// Len returns the number of registered stages.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// sameMiddleware compares by identity. Values of non-comparable dynamic
// types are never considered equal.
func sameMiddleware(a, b Middleware) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// ProcessRequest folds msg through every stage in registration order.
func (p *Pipeline) ProcessRequest(ctx context.Context, msg *protocol.Message) *protocol.Message {
	return p.process(ctx, DirectionRequest, msg)
}

// ProcessResponse folds msg through every stage in registration order.
func (p *Pipeline) ProcessResponse(ctx context.Context, msg *protocol.Message) *protocol.Message {
	return p.process(ctx, DirectionResponse, msg)
}

func (p *Pipeline) process(ctx context.Context, dir Direction, msg *protocol.Message) *protocol.Message {
	if !p.enabled || msg == nil {
		return msg
	}

	p.mu.RLock()
	stages := make([]Middleware, len(p.stages))
	copy(stages, p.stages)
	p.mu.RUnlock()

	current := msg
	for _, stage := range stages {
		// Each stage gets its own copy so a stage that edits in place and then
		// fails cannot corrupt the last good message.
		out, err := runStage(ctx, stage, dir, current.Clone())
		if err != nil {
			failure := toolerr.NewMiddlewareFailure(stage.Name(), err)
			p.logger.Warn("middleware stage failed, continuing",
				zap.String("stage", stage.Name()),
				zap.String("direction", string(dir)),
				zap.String("method", current.Method),
				zap.Error(failure))
			if p.onFail != nil {
				p.onFail(stage.Name(), dir, failure)
			}
			continue
		}
		if out != nil {
			current = out
		}
	}
	return current
}

func runStage(ctx context.Context, stage Middleware, dir Direction, msg *protocol.Message) (out *protocol.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return stage.Process(ctx, dir, msg)
}
