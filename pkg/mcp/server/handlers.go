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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/catalog"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/datacache"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/protocol"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/tools"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/transport"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

// Environment variable prefixes that are never exposed to tools.
var excludedEnvPrefixes = []string{"MCP_", "_", "ARCADE_DATACACHE_"}

// ToolEnvironment builds the secret map tools read from, given KEY=VALUE
// pairs such as os.Environ(). Server settings are excluded.
func ToolEnvironment(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		excluded := false
		for _, prefix := range excludedEnvPrefixes {
			if strings.HasPrefix(key, prefix) {
				excluded = true
				break
			}
		}
		if !excluded {
			env[key] = value
		}
	}
	return env
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil)
		}
	}

	s.mu.Lock()
	client := p.ClientInfo
	s.clientInfo = &client
	s.mu.Unlock()

	version := negotiateVersion(p.ProtocolVersion)
	s.logger.Info("client initialized",
		zap.String("client", p.ClientInfo.Name),
		zap.String("client_version", p.ClientInfo.Version),
		zap.String("requested_protocol", p.ProtocolVersion),
		zap.String("protocol", version),
	)

	return protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities: protocol.ServerCapabilities{
			Tools:   &protocol.ToolsCapability{ListChanged: true},
			Logging: &protocol.LoggingCapability{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

// negotiateVersion echoes a supported requested version and otherwise
// offers the newest one.
func negotiateVersion(requested string) string {
	for _, v := range protocol.SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return protocol.ProtocolVersion
}

func (s *Server) handleInitialized(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	s.logger.Debug("client sent initialized")
	return nil, nil
}

func (s *Server) handlePing(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

func (s *Server) handleToolsList(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return protocol.ToolListResult{Tools: s.tools.ListTools(ctx)}, nil
}

func (s *Server) handleCancelled(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.CancelledNotification
	if err := json.Unmarshal(params, &p); err != nil || p.RequestID == nil {
		s.logger.Debug("ignoring malformed cancellation", zap.ByteString("params", params))
		return nil, nil
	}
	// A client may only cancel requests it sent on its own session.
	sessionID := transport.SessionIDFromContext(ctx)
	if s.tracker.Cancel(TaskKey{SessionID: sessionID, RequestID: p.RequestID.Key()}) {
		s.logger.Info("request cancelled by client",
			zap.String("session_id", sessionID),
			zap.Stringer("request_id", p.RequestID),
			zap.String("reason", p.Reason),
		)
	}
	return nil, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid tool call params: %v", err), nil)
	}
	if p.Name == "" {
		return nil, protocol.NewError(protocol.InvalidParams, "tool name is required", nil)
	}

	managed, err := s.tools.GetManaged(ctx, p.Name)
	if err != nil {
		if toolerr.IsNotFound(err) {
			return nil, protocol.NewError(protocol.MethodNotFound, fmt.Sprintf("tool not found: %s", p.Name), nil)
		}
		return nil, err
	}

	args := p.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := protocol.ValidateToolArguments(managed.Descriptor, args); err != nil {
		var argErr *protocol.ArgumentError
		if errors.As(err, &argErr) {
			return nil, protocol.NewError(protocol.InvalidParams, argErr.Error(), map[string]interface{}{
				"violations": argErr.Violations,
			})
		}
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}

	tool := managed.Tool
	fqn := tool.Name().String()
	tc, err := s.toolContext(tool, p.Meta)
	if err != nil {
		return s.toolErrorResult(fqn, err), nil
	}

	start := time.Now()
	value, err := tool.Func(ctx, tc, args)
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("tool call failed",
			zap.String("tool", fqn),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return s.toolErrorResult(fqn, err), nil
	}
	s.logger.Debug("tool call succeeded", zap.String("tool", fqn), zap.Duration("duration", duration))

	content, err := tools.Content(value)
	if err != nil {
		return s.toolErrorResult(fqn, toolerr.NewToolExecution("tool returned an unserializable value", err)), nil
	}
	structured, err := tools.StructuredContent(value)
	if err != nil {
		return s.toolErrorResult(fqn, toolerr.NewToolExecution("tool returned an unserializable value", err)), nil
	}
	return &protocol.CallToolResult{Content: content, StructuredContent: structured}, nil
}

// toolContext assembles what the tool receives besides its arguments.
func (s *Server) toolContext(tool *catalog.MaterializedTool, meta *protocol.CallMeta) (*catalog.ToolContext, error) {
	def := tool.Definition
	tc := &catalog.ToolContext{
		Metadata: meta.Metadata(),
		Secrets:  make(map[string]string, len(def.Requirements.Secrets)),
	}
	if meta != nil {
		tc.UserID = meta.UserID
	}
	if tc.Metadata == nil {
		tc.Metadata = map[string]string{}
	}

	var missing []string
	for _, name := range def.Requirements.Secrets {
		value, ok := s.lookupSecret(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		tc.Secrets[name] = value
	}
	if len(missing) > 0 {
		e := toolerr.NewToolExecution(fmt.Sprintf("missing required secrets: %s", strings.Join(missing, ", ")), nil)
		e.DeveloperMessage = "set the secrets as environment variables of the server process"
		return nil, e
	}

	if def.Datacache.Enabled() {
		if s.cache == nil {
			return nil, toolerr.NewLockBackendUnavailable("datacache is not configured on this server", nil)
		}
		identity, err := datacache.BuildIdentity(tool.Name().String(), def.Datacache, tc.UserID, tc.Metadata)
		if err != nil {
			return nil, toolerr.NewInvalidInput(err.Error(), err)
		}
		tc.Cache = s.cache.Scope(identity, def.Datacache)
	}
	return tc, nil
}

func (s *Server) lookupSecret(name string) (string, bool) {
	if v, ok := s.toolEnv[name]; ok && v != "" {
		return v, true
	}
	for k, v := range s.toolEnv {
		if strings.EqualFold(k, name) && v != "" {
			return v, true
		}
	}
	return "", false
}

// toolErrorResult reports err as a tool result with isError set.
func (s *Server) toolErrorResult(fqn string, err error) *protocol.CallToolResult {
	te, ok := toolerr.As(err)
	if !ok {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			te = toolerr.NewToolExecution("tool call was cancelled", err)
		default:
			te = toolerr.NewToolExecution(err.Error(), err)
		}
	}
	payload := te.Payload()
	payload["tool"] = fqn
	return &protocol.CallToolResult{
		IsError:           true,
		Content:           []protocol.Content{{Type: "text", Text: te.Message}},
		StructuredContent: map[string]interface{}{"error": payload},
	}
}
