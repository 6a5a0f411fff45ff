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
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "string ID", input: `"abc"`, expected: "abc"},
		{name: "number ID", input: `42`, expected: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id RequestID
			require.NoError(t, json.Unmarshal([]byte(tt.input), &id))
			assert.Equal(t, tt.expected, id.String())

			out, err := json.Marshal(&id)
			require.NoError(t, err)
			assert.JSONEq(t, tt.input, string(out))
		})
	}

	var bad RequestID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &bad))
	assert.Equal(t, "null", (*RequestID)(nil).String())
}

func TestRequestID_Key(t *testing.T) {
	num, str := NewNumericRequestID(7), NewStringRequestID("7")
	assert.Equal(t, num.String(), str.String())
	assert.NotEqual(t, num.Key(), str.Key(), "numeric and string ids are distinct")
	assert.Equal(t, num.Key(), NewNumericRequestID(7).Key())
	assert.Empty(t, (*RequestID)(nil).Key())
}

func TestParseMessage_Kinds(t *testing.T) {
	req, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsNotification())
	assert.False(t, req.IsResponse())

	note, err := ParseMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.True(t, note.IsNotification())

	resp, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":"a","result":{}}`))
	require.NoError(t, err)
	assert.True(t, resp.IsResponse())

	_, err = ParseMessage([]byte(`{not json`))
	assert.Error(t, err)
}

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := &Message{
		JSONRPC: JSONRPCVersion,
		ID:      NewStringRequestID("1"),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"x"}`),
	}
	c := orig.Clone()
	c.Params[2] = 'N'
	*c.ID.Str = "2"
	c.Method = "ping"

	assert.Equal(t, `{"name":"x"}`, string(orig.Params))
	assert.Equal(t, "1", orig.ID.String())
	assert.Equal(t, "tools/call", orig.Method)
	assert.Nil(t, (*Message)(nil).Clone())
}

func TestMessage_MarshalResponseWithNullID(t *testing.T) {
	msg := NewErrorMessage(nil, NewError(ParseError, "Parse error", nil))
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, string(data))

	result, err := NewResultMessage(NewNumericRequestID(7), map[string]string{"ok": "yes"})
	require.NoError(t, err)
	data, err = json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{"ok":"yes"}}`, string(data))

	note, err := NewNotificationMessage(MethodToolsListChanged, nil)
	require.NoError(t, err)
	data, err = json.Marshal(note)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, string(data))
}

func TestNewError(t *testing.T) {
	e := NewError(InvalidParams, "bad", map[string]int{"field": 1})
	assert.Equal(t, InvalidParams, e.Code)
	assert.JSONEq(t, `{"field":1}`, string(e.Data))
	assert.Contains(t, e.Error(), "-32602")

	plain := NewError(InternalError, "boom", nil)
	assert.Nil(t, plain.Data)
	assert.Equal(t, "JSON-RPC error -32603: boom", plain.Error())
}

func TestMessage_Conversions(t *testing.T) {
	msg := &Message{JSONRPC: JSONRPCVersion, ID: NewNumericRequestID(1), Method: "ping"}
	req := msg.Request()
	assert.Equal(t, "ping", req.Method)
	assert.Equal(t, "1", req.ID.String())

	resp := (&Message{JSONRPC: JSONRPCVersion, ID: NewNumericRequestID(1), Result: json.RawMessage(`{}`)}).Response()
	assert.Equal(t, json.RawMessage(`{}`), resp.Result)
}
