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

// Package transport turns a byte stream into MCP sessions.
//
// A Transport is started once, hands out a Session, and is stopped once.
// Every message read from a Session arrives as an Inbound that knows how to
// answer on the exact path it came from, so a response can never be written
// to the wrong caller.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

var (
	// ErrClosed is returned by Receive and Send once a session or transport is closed.
	ErrClosed = errors.New("transport closed")

	// ErrNotStarted is returned by ConnectSession before Start.
	ErrNotStarted = errors.New("transport not started")

	// ErrSessionActive is returned when a transport that carries a single
	// session is asked for a second one.
	ErrSessionActive = errors.New("session already connected")

	// ErrAlreadyReplied is returned by a second Inbound.Reply.
	ErrAlreadyReplied = errors.New("inbound message already answered")
)

// DefaultMaxMessageBytes bounds one inbound message.
const DefaultMaxMessageBytes int64 = 10 * 1024 * 1024

// Transport is a byte-stream source of sessions.
type Transport interface {
	// Name identifies the transport in logs ("stdio", "http").
	Name() string

	// Start performs transport setup such as binding a listener. It
	// allocates no per-connection resources.
	Start(ctx context.Context) error

	// ConnectSession returns the next session. Callers must Close it.
	ConnectSession(ctx context.Context) (Session, error)

	// Stop releases everything Start acquired. Safe to call more than once.
	Stop(ctx context.Context) error
}

// Session is one connected protocol stream.
type Session interface {
	ID() string

	// InitOptions describes the negotiated stream properties.
	InitOptions() InitOptions

	// Receive blocks for the next inbound message. It returns io.EOF or
	// ErrClosed when the stream ends.
	Receive(ctx context.Context) (*Inbound, error)

	// Send writes a server-initiated message such as a notification.
	Send(ctx context.Context, message []byte) error

	Close() error
}

// InitOptions are fixed for the lifetime of a session.
type InitOptions struct {
	Transport       string
	MaxMessageBytes int64
}

// ReplyFunc writes a response on the path an inbound message arrived on.
// A nil body means there is nothing to send.
type ReplyFunc func(ctx context.Context, body []byte) error

// Inbound is one raw message with its reply path.
type Inbound struct {
	Data []byte

	// SessionID is the protocol session the message belongs to, empty when
	// the transport does not issue ids.
	SessionID string

	reply ReplyFunc
	once  sync.Once
}

// NewInbound creates an inbound message answered through reply.
func NewInbound(data []byte, sessionID string, reply ReplyFunc) *Inbound {
	return &Inbound{Data: data, SessionID: sessionID, reply: reply}
}

// Reply answers the message. Only the first call has an effect; a nil body
// acknowledges without a response.
func (in *Inbound) Reply(ctx context.Context, body []byte) error {
	err := ErrAlreadyReplied
	in.once.Do(func() {
		err = nil
		if in.reply != nil {
			err = in.reply(ctx, body)
		}
	})
	return err
}

type sessionIDKey struct{}

// ContextWithSessionID returns ctx carrying the protocol session id of the
// message being handled.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the protocol session id set by
// ContextWithSessionID, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// WithSession connects a session, runs fn, and closes the session on every
// exit path, including a panic in fn.
func WithSession(ctx context.Context, t Transport, fn func(ctx context.Context, s Session) error) (err error) {
	sess, err := t.ConnectSession(ctx)
	if err != nil {
		return toolerr.NewTransportFailure(fmt.Sprintf("failed to connect %s session", t.Name()), err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = toolerr.NewTransportFailure("failed to close session", cerr)
		}
	}()
	return fn(ctx, sess)
}
