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

package runner

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// Drainer is the shutdown surface of server.Server.
type Drainer interface {
	Drain()
	ForceStop() int
}

// SignalHandler turns SIGINT/SIGTERM into shutdown steps. The first signal
// drains the server; the second cancels in-flight requests and exits.
type SignalHandler struct {
	srv    Drainer
	logger *zap.Logger
	exit   func(code int)
	count  atomic.Int32
}

// SignalOption configures a SignalHandler.
type SignalOption func(*SignalHandler)

// WithSignalLogger sets the logger.
func WithSignalLogger(logger *zap.Logger) SignalOption {
	return func(h *SignalHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) SignalOption {
	return func(h *SignalHandler) {
		if exit != nil {
			h.exit = exit
		}
	}
}

// NewSignalHandler creates a handler for srv.
func NewSignalHandler(srv Drainer, opts ...SignalOption) *SignalHandler {
	h := &SignalHandler{srv: srv, logger: zap.NewNop(), exit: os.Exit}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("signals")
	return h
}

// Handle processes one signal.
func (h *SignalHandler) Handle(sig os.Signal) {
	switch n := h.count.Add(1); n {
	case 1:
		h.logger.Info("received signal, draining; send again to force exit", zap.Stringer("signal", sig))
		h.srv.Drain()
	case 2:
		cancelled := h.srv.ForceStop()
		h.logger.Warn("received second signal, forcing exit",
			zap.Stringer("signal", sig),
			zap.Int("cancelled_tasks", cancelled),
		)
		h.exit(1)
	default:
		h.logger.Debug("ignoring signal during forced exit", zap.Stringer("signal", sig))
	}
}

// Listen subscribes to SIGINT and SIGTERM until ctx is done or the
// returned stop func is called.
func (h *SignalHandler) Listen(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				h.Handle(sig)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
