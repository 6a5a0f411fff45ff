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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func connectStdio(t *testing.T, r io.Reader, w io.Writer) (*StdioTransport, Session) {
	t.Helper()
	tr := NewStdioTransport(r, w, WithStdioLogger(zaptest.NewLogger(t)))
	require.NoError(t, tr.Start(context.Background()))
	sess, err := tr.ConnectSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Stop(context.Background()) })
	return tr, sess
}

func TestStdioTransport_ReceiveReply(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1}` + "\n")
	var out syncBuffer
	_, sess := connectStdio(t, in, &out)

	msg, err := sess.Receive(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), `"method":"ping"`)
	assert.Empty(t, msg.SessionID)

	require.NoError(t, msg.Reply(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)))
	assert.ErrorIs(t, msg.Reply(context.Background(), []byte(`{}`)), ErrAlreadyReplied)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":{}}`+"\n", out.String())
}

func TestStdioTransport_NilReplyWritesNothing(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	var out syncBuffer
	_, sess := connectStdio(t, in, &out)

	msg, err := sess.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, msg.Reply(context.Background(), nil))
	assert.Empty(t, out.String())
}

func TestStdioTransport_ReceiveEOF(t *testing.T) {
	_, sess := connectStdio(t, strings.NewReader(""), &syncBuffer{})

	_, err := sess.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	_, err = sess.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStdioTransport_LastLineWithoutNewline(t *testing.T) {
	in := strings.NewReader(`{"method":"a"}` + "\n" + `{"method":"b"}`)
	_, sess := connectStdio(t, in, &syncBuffer{})

	first, err := sess.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"method":"a"}`, string(first.Data))

	last, err := sess.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"method":"b"}`, string(last.Data))

	_, err = sess.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStdioTransport_SkipsBlankLinesAndTrimsCRLF(t *testing.T) {
	in := strings.NewReader("\n  \r\n" + `{"method":"ping"}` + "\r\n")
	_, sess := connectStdio(t, in, &syncBuffer{})

	msg, err := sess.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"method":"ping"}`, string(msg.Data))
}

func TestStdioTransport_ReceiveContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	_, sess := connectStdio(t, pr, &syncBuffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sess.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStdioTransport_NoGoroutineLeak(t *testing.T) {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	pr, pw := io.Pipe()
	tr := NewStdioTransport(pr, &syncBuffer{})
	require.NoError(t, tr.Start(context.Background()))
	sess, err := tr.ConnectSession(context.Background())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := sess.Receive(ctx)
		require.Error(t, err)
	}

	require.NoError(t, tr.Stop(context.Background()))
	pw.Close()
	time.Sleep(100 * time.Millisecond)
	runtime.GC()

	assert.LessOrEqual(t, runtime.NumGoroutine(), baseline+2,
		"cancelled Receive calls must not accumulate reader goroutines")
}

func TestStdioTransport_Lifecycle(t *testing.T) {
	tr := NewStdioTransport(strings.NewReader(""), &syncBuffer{})
	assert.Equal(t, "stdio", tr.Name())

	_, err := tr.ConnectSession(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, tr.Start(context.Background()))
	sess, err := tr.ConnectSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
	assert.Equal(t, "stdio", sess.InitOptions().Transport)

	_, err = tr.ConnectSession(context.Background())
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, tr.Stop(context.Background()))
	assert.ErrorIs(t, sess.Send(context.Background(), []byte(`{}`)), ErrClosed)
	_, err = sess.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, tr.Start(context.Background()), ErrClosed, "a stopped transport cannot restart")
	require.NoError(t, tr.Stop(context.Background()))
}

func TestStdioTransport_ConcurrentWritesDoNotInterleave(t *testing.T) {
	var out syncBuffer
	_, sess := connectStdio(t, strings.NewReader(""), &out)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sess.Send(context.Background(), []byte(fmt.Sprintf(`{"id":%d}`, i)))
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		assert.Regexp(t, `^\{"id":\d+\}$`, line)
	}
}

func TestStdioTransport_PipeRoundTrip(t *testing.T) {
	pr, pw := io.Pipe()
	var out syncBuffer
	_, sess := connectStdio(t, pr, &out)

	go func() {
		_, _ = pw.Write([]byte(`{"jsonrpc":"2.0","method":"initialize","id":1}` + "\n"))
		_, _ = pw.Write([]byte(`{"jsonrpc":"2.0","method":"ping","id":2}` + "\n"))
		pw.Close()
	}()

	first, err := sess.Receive(context.Background())
	require.NoError(t, err)
	second, err := sess.Receive(context.Background())
	require.NoError(t, err)

	// Answer out of order; each reply goes out as its own line.
	require.NoError(t, second.Reply(context.Background(), []byte(`{"id":2}`)))
	require.NoError(t, first.Reply(context.Background(), []byte(`{"id":1}`)))
	assert.Equal(t, "{\"id\":2}\n{\"id\":1}\n", out.String())

	_, err = sess.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

type failingTransport struct {
	connectErr error
	sess       *recordingSession
}

func (f *failingTransport) Name() string { return "fake" }
func (f *failingTransport) Start(ctx context.Context) error { return nil }
func (f *failingTransport) Stop(ctx context.Context) error { return nil }
func (f *failingTransport) ConnectSession(ctx context.Context) (Session, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.sess, nil
}

type recordingSession struct {
	closed int
}

func (r *recordingSession) ID() string { return "rec" }
func (r *recordingSession) InitOptions() InitOptions { return InitOptions{Transport: "fake"} }
func (r *recordingSession) Receive(ctx context.Context) (*Inbound, error) {
	return nil, io.EOF
}
func (r *recordingSession) Send(ctx context.Context, message []byte) error { return nil }
func (r *recordingSession) Close() error {
	r.closed++
	return nil
}

func TestWithSession(t *testing.T) {
	t.Run("closes after fn", func(t *testing.T) {
		sess := &recordingSession{}
		err := WithSession(context.Background(), &failingTransport{sess: sess}, func(ctx context.Context, s Session) error {
			assert.Equal(t, "rec", s.ID())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, sess.closed)
	})

	t.Run("closes when fn fails", func(t *testing.T) {
		sess := &recordingSession{}
		boom := errors.New("boom")
		err := WithSession(context.Background(), &failingTransport{sess: sess}, func(ctx context.Context, s Session) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, sess.closed)
	})

	t.Run("closes when fn panics", func(t *testing.T) {
		sess := &recordingSession{}
		assert.Panics(t, func() {
			_ = WithSession(context.Background(), &failingTransport{sess: sess}, func(ctx context.Context, s Session) error {
				panic("bad")
			})
		})
		assert.Equal(t, 1, sess.closed)
	})

	t.Run("connect failure is a transport failure", func(t *testing.T) {
		called := false
		err := WithSession(context.Background(), &failingTransport{connectErr: ErrClosed}, func(ctx context.Context, s Session) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrClosed)
		assert.Equal(t, toolerr.KindTransportFailure, toolerr.KindOf(err))
	})
}
