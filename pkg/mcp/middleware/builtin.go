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
package middleware

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/protocol"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/transport"
)

// Logging logs every message at debug level and error responses at warn.
type Logging struct {
	logger *zap.Logger
}

// NewLogging creates the logging middleware.
func NewLogging(logger *zap.Logger) *Logging {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logging{logger: logger.Named("mcp.messages")}
}

func (l *Logging) Name() string { return "logging" }

func (l *Logging) Process(ctx context.Context, dir Direction, msg *protocol.Message) (*protocol.Message, error) {
	fields := []zap.Field{
		zap.String("direction", string(dir)),
		zap.String("id", msg.ID.String()),
	}
	if msg.Method != "" {
		fields = append(fields, zap.String("method", msg.Method))
	}
	if msg.Error != nil {
		fields = append(fields, zap.Int("code", msg.Error.Code), zap.String("error", msg.Error.Message))
		l.logger.Warn("mcp error response", fields...)
		return msg, nil
	}
	l.logger.Debug("mcp message", fields...)
	return msg, nil
}

// ErrorMasking hides error details from clients.
type ErrorMasking struct{}

// NewErrorMasking creates the masking middleware.
func NewErrorMasking() *ErrorMasking {
	return &ErrorMasking{}
}

func (m *ErrorMasking) Name() string { return "error_masking" }

// Process strips JSON-RPC error data, replaces internal error messages and
// drops developer messages from tool error payloads.
func (m *ErrorMasking) Process(ctx context.Context, dir Direction, msg *protocol.Message) (*protocol.Message, error) {
	if dir != DirectionResponse {
		return msg, nil
	}

	if msg.Error != nil {
		msg.Error.Data = nil
		if msg.Error.Code == protocol.InternalError || (msg.Error.Code <= protocol.ServerError && msg.Error.Code >= -32099) {
			msg.Error.Message = "Internal error"
		}
		return msg, nil
	}

	if msg.Result == nil {
		return msg, nil
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil || !result.IsError {
		return msg, nil
	}
	errPayload, ok := result.StructuredContent["error"].(map[string]interface{})
	if !ok {
		return msg, nil
	}
	if _, has := errPayload["developer_message"]; !has {
		return msg, nil
	}
	delete(errPayload, "developer_message")
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	msg.Result = raw
	return msg, nil
}

// Metrics records message counts and request latency.
type Metrics struct {
	messages *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	inflight sync.Map // requestKey -> *pending
}

type pending struct {
	method string
	start  time.Time
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_messages_total",
			Help: "MCP messages processed by direction and method.",
		}, []string{"direction", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_message_errors_total",
			Help: "MCP error responses by method and JSON-RPC code.",
		}, []string{"method", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_request_duration_seconds",
			Help:    "Time from request to response.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Process(ctx context.Context, dir Direction, msg *protocol.Message) (*protocol.Message, error) {
	switch dir {
	case DirectionRequest:
		m.messages.WithLabelValues(string(dir), msg.Method).Inc()
		if msg.ID != nil {
			key := requestKey(ctx, msg.ID)
			p := &pending{method: msg.Method, start: time.Now()}
			m.inflight.Store(key, p)
			// Requests that are never answered are dropped when their
			// context ends.
			context.AfterFunc(ctx, func() { m.inflight.CompareAndDelete(key, p) })
		}
	case DirectionResponse:
		method := msg.Method
		if v, ok := m.inflight.LoadAndDelete(requestKey(ctx, msg.ID)); ok {
			p := v.(*pending)
			method = p.method
			m.latency.WithLabelValues(method).Observe(time.Since(p.start).Seconds())
		}
		m.messages.WithLabelValues(string(dir), method).Inc()
		if msg.Error != nil {
			m.errors.WithLabelValues(method, codeLabel(msg.Error.Code)).Inc()
		}
	}
	return msg, nil
}

// requestKey scopes a request id to the session it arrived on.
func requestKey(ctx context.Context, id *protocol.RequestID) string {
	return transport.SessionIDFromContext(ctx) + "|" + id.Key()
}

func codeLabel(code int) string {
	switch code {
	case protocol.ParseError:
		return "parse_error"
	case protocol.InvalidRequest:
		return "invalid_request"
	case protocol.MethodNotFound:
		return "method_not_found"
	case protocol.InvalidParams:
		return "invalid_params"
	case protocol.InternalError:
		return "internal_error"
	default:
		return "server_error"
	}
}
