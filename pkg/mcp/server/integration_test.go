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
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/middleware"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/protocol"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/transport"
)

// stdioClient drives a server over a pair of pipes, one JSON line per message.
type stdioClient struct {
	w       io.WriteCloser
	scanner *bufio.Scanner
}

func (c *stdioClient) send(t *testing.T, raw string) {
	t.Helper()
	_, err := c.w.Write([]byte(raw + "\n"))
	require.NoError(t, err)
}

func (c *stdioClient) recv(t *testing.T) *protocol.Message {
	t.Helper()
	lines := make(chan []byte, 1)
	go func() {
		if c.scanner.Scan() {
			lines <- append([]byte(nil), c.scanner.Bytes()...)
		}
		close(lines)
	}()
	select {
	case line, ok := <-lines:
		require.True(t, ok, "server closed stdout")
		msg, err := protocol.ParseMessage(line)
		require.NoError(t, err)
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a response line")
		return nil
	}
}

func startStdioServer(t *testing.T, srv *Server) (*stdioClient, <-chan error) {
	t.Helper()
	serverInR, serverInW := io.Pipe()
	serverOutR, serverOutW := io.Pipe()
	t.Cleanup(func() {
		_ = serverInW.Close()
		_ = serverOutR.Close()
	})

	tr := transport.NewStdioTransport(serverInR, serverOutW, transport.WithStdioLogger(zaptest.NewLogger(t)))
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, srv.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- transport.WithSession(context.Background(), tr, func(ctx context.Context, s transport.Session) error {
			return srv.Run(ctx, s)
		})
	}()
	return &stdioClient{w: serverInW, scanner: bufio.NewScanner(serverOutR)}, done
}

func TestIntegration_StdioEcho(t *testing.T) {
	pipeline := middleware.NewPipeline(middleware.WithLogger(zaptest.NewLogger(t)))
	pipeline.Add(middleware.NewLogging(zaptest.NewLogger(t)))
	srv, _ := newTestServer(t, []toolSpec{{echoDefinition(), echo}}, WithPipeline(pipeline))
	client, done := startStdioServer(t, srv)

	client.send(t, request(1, "initialize", map[string]interface{}{
		"protocolVersion": protocol.ProtocolVersion,
		"clientInfo":      map[string]string{"name": "e2e", "version": "1"},
	}))
	initResp := client.recv(t)
	require.Nil(t, initResp.Error)
	assert.Equal(t, "1", initResp.ID.String())

	client.send(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	client.send(t, request(2, "tools/list", nil))
	list := client.recv(t)
	var tools protocol.ToolListResult
	require.NoError(t, json.Unmarshal(list.Result, &tools))
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "Demo_Echo", tools.Tools[0].Name)

	client.send(t, request(3, "tools/call", map[string]interface{}{
		"name":      "Demo_Echo",
		"arguments": map[string]string{"message": "hi"},
	}))
	call := client.recv(t)
	assert.Equal(t, "3", call.ID.String())
	require.Nil(t, call.Error)

	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(call.Result, &result))
	require.NotEmpty(t, result.Content)
	assert.Equal(t, "hi", result.Content[0].Text)
	assert.Equal(t, "hi", result.StructuredContent["result"])

	require.NoError(t, client.w.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop at end of input")
	}
}

func TestIntegration_ConcurrentDatacacheWrites(t *testing.T) {
	def, fn := profileTool("organization", "user_id")
	srv, _ := newTestServer(t, []toolSpec{{def, fn}}, WithDatacache(newDatacacheClient(t)))
	client, done := startStdioServer(t, srv)

	meta := map[string]interface{}{"user_id": "u-1", "organization": "acme"}
	for _, id := range []int{1, 2} {
		client.send(t, request(id, "tools/call", map[string]interface{}{
			"name":      "Demo_SaveProfile",
			"arguments": map[string]string{"id": "same-row", "name": "writer"},
			"_meta":     meta,
		}))
	}

	actions := map[string]int{}
	for i := 0; i < 2; i++ {
		resp := client.recv(t)
		require.Nil(t, resp.Error)
		var result protocol.CallToolResult
		require.NoError(t, json.Unmarshal(resp.Result, &result))
		require.False(t, result.IsError, "%v", result.StructuredContent)
		actions[result.StructuredContent["action"].(string)]++
	}
	assert.Equal(t, map[string]int{"inserted": 1, "updated": 1}, actions)

	require.NoError(t, client.w.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop at end of input")
	}
}

// httpClient posts JSON-RPC messages to a streamable HTTP server.
type httpClient struct {
	url string
}

// send posts raw and returns the status, the body, and the session header.
func (c httpClient) send(sessionID, raw string) (int, []byte, string, error) {
	req, err := http.NewRequest(http.MethodPost, c.url, strings.NewReader(raw))
	if err != nil {
		return 0, nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(transport.SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, resp.Header.Get(transport.SessionHeader), err
}

func (c httpClient) post(t *testing.T, sessionID, raw string) (int, *protocol.Message, string) {
	t.Helper()
	code, body, header, err := c.send(sessionID, raw)
	require.NoError(t, err)
	return code, parseBody(t, code, body), header
}

// parseBody parses a 200 response body; other answers carry no message.
func parseBody(t *testing.T, code int, body []byte) *protocol.Message {
	t.Helper()
	if code != http.StatusOK || len(body) == 0 {
		return nil
	}
	msg, err := protocol.ParseMessage(body)
	require.NoError(t, err)
	return msg
}

func (c httpClient) initialize(t *testing.T) string {
	t.Helper()
	code, _, sessionID := c.post(t, "", request(1, "initialize", map[string]interface{}{
		"protocolVersion": protocol.ProtocolVersion,
		"clientInfo":      map[string]string{"name": "http", "version": "1"},
	}))
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, sessionID)
	return sessionID
}

func startHTTPServer(t *testing.T, srv *Server) httpClient {
	t.Helper()
	tr := transport.NewStreamableHTTPTransport(transport.HTTPConfig{
		Host:   "127.0.0.1",
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, srv.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- transport.WithSession(context.Background(), tr, func(ctx context.Context, s transport.Session) error {
			return srv.Run(ctx, s)
		})
	}()
	t.Cleanup(func() {
		require.NoError(t, tr.Stop(context.Background()))
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop with the transport")
		}
	})
	return httpClient{url: "http://" + tr.Addr().String() + transport.DefaultPath}
}

func TestIntegration_HTTPCancellationIsScopedToSession(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	def, fn := blockingTool(release, started)
	srv, _ := newTestServer(t, []toolSpec{{def, fn}})
	client := startHTTPServer(t, srv)

	sessionA := client.initialize(t)
	sessionB := client.initialize(t)
	require.NotEqual(t, sessionA, sessionB)

	type answer struct {
		code int
		body []byte
		err  error
	}
	call := func(sessionID, tag string) <-chan answer {
		out := make(chan answer, 1)
		go func() {
			code, body, _, err := client.send(sessionID, request(7, "tools/call", map[string]interface{}{
				"name":      "Demo_Block",
				"arguments": map[string]string{"tag": tag},
			}))
			out <- answer{code, body, err}
		}()
		return out
	}

	fromA := call(sessionA, "a")
	require.Equal(t, "a", <-started)
	fromB := call(sessionB, "b")
	require.Equal(t, "b", <-started)
	require.Equal(t, 2, srv.InFlight(), "the same id on two sessions runs twice")

	cancel := `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7}}`
	code, _, _ := client.post(t, sessionB, cancel)
	require.Equal(t, http.StatusAccepted, code)

	// B's request ends without a response; A's keeps running.
	b := <-fromB
	require.NoError(t, b.err)
	assert.Equal(t, http.StatusAccepted, b.code)
	assert.Empty(t, b.body)
	require.Eventually(t, func() bool { return srv.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	// A string id "7" is a different request from the numeric id 7.
	code, _, _ = client.post(t, sessionA, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"7"}}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, 1, srv.InFlight())

	close(release)
	a := <-fromA
	require.NoError(t, a.err)
	require.Equal(t, http.StatusOK, a.code)
	msg := parseBody(t, a.code, a.body)
	require.NotNil(t, msg)
	assert.Equal(t, "7", msg.ID.String())
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.False(t, result.IsError)
	assert.Equal(t, "released a", result.StructuredContent["result"])
}
