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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// readResult holds the result of a single line read from the reader.
type readResult struct {
	data []byte
	err  error
}

// StdioTransport serves one session of newline-delimited JSON-RPC over a
// reader/writer pair, typically os.Stdin and os.Stdout.
type StdioTransport struct {
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	session *stdioSession
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithStdioLogger sets the logger.
func WithStdioLogger(logger *zap.Logger) StdioOption {
	return func(t *StdioTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewStdioTransport creates a stdio transport over r and w.
func NewStdioTransport(r io.Reader, w io.Writer, opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{in: r, out: w, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *StdioTransport) Name() string { return "stdio" }

// Start marks the transport ready. The streams are owned by the caller.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrClosed
	}
	t.started = true
	return nil
}

// ConnectSession returns the single stdio session.
func (t *StdioTransport) ConnectSession(ctx context.Context) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.stopped:
		return nil, ErrClosed
	case !t.started:
		return nil, ErrNotStarted
	case t.session != nil && !t.session.isClosed():
		return nil, ErrSessionActive
	}
	t.session = newStdioSession(t.in, t.out, t.logger)
	return t.session, nil
}

// Stop closes the active session. It does not close the underlying streams.
func (t *StdioTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	sess := t.session
	t.stopped = true
	t.mu.Unlock()
	if sess != nil {
		return sess.Close()
	}
	return nil
}

// stdioSession reads with a persistent goroutine so that cancelled Receive
// calls never leak readers.
type stdioSession struct {
	id     string
	reader *bufio.Reader
	logger *zap.Logger

	writeMu sync.Mutex
	writer  io.Writer

	readCh    chan readResult
	once      sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newStdioSession(r io.Reader, w io.Writer, logger *zap.Logger) *stdioSession {
	return &stdioSession{
		id:     uuid.NewString(),
		reader: bufio.NewReaderSize(r, 1024*1024),
		writer: w,
		logger: logger,
		readCh: make(chan readResult, 1),
		done:   make(chan struct{}),
	}
}

func (s *stdioSession) ID() string { return s.id }

func (s *stdioSession) InitOptions() InitOptions {
	return InitOptions{Transport: "stdio", MaxMessageBytes: DefaultMaxMessageBytes}
}

// startReader launches the reader goroutine on first use. A final line
// without a trailing newline is delivered before the EOF.
func (s *stdioSession) startReader() {
	s.once.Do(func() {
		go func() {
			defer close(s.readCh)
			for {
				line, err := s.reader.ReadBytes('\n')
				if len(line) > 0 && !s.deliver(readResult{data: line}) {
					return
				}
				if err != nil {
					s.deliver(readResult{err: err})
					return
				}
			}
		}()
	})
}

func (s *stdioSession) deliver(r readResult) bool {
	select {
	case s.readCh <- r:
		return true
	case <-s.done:
		return false
	}
}

// Receive returns the next non-empty line.
func (s *stdioSession) Receive(ctx context.Context) (*Inbound, error) {
	s.startReader()
	for {
		if s.isClosed() {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrClosed
		case result, ok := <-s.readCh:
			if !ok {
				return nil, io.EOF
			}
			if result.err != nil {
				if result.err == io.EOF {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("read message: %w", result.err)
			}
			line := bytes.TrimRight(result.data, "\r\n")
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if int64(len(line)) > DefaultMaxMessageBytes {
				s.logger.Warn("dropping oversized stdio message", zap.Int("bytes", len(line)))
				continue
			}
			return NewInbound(line, "", s.write), nil
		}
	}
}

// Send writes a server-initiated message.
func (s *stdioSession) Send(ctx context.Context, message []byte) error {
	return s.write(ctx, message)
}

// write emits one line. Responses and notifications share the writer, so
// each line is written under writeMu in a single call.
func (s *stdioSession) write(_ context.Context, message []byte) error {
	if message == nil {
		return nil
	}
	if s.isClosed() {
		return ErrClosed
	}
	buf := make([]byte, 0, len(message)+1)
	buf = append(buf, message...)
	buf = append(buf, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (s *stdioSession) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close stops Receive. The reader goroutine exits once the underlying
// reader returns.
func (s *stdioSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
