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

// Package runner ties a server to a transport for the life of a process:
// it starts both, serves one session, and tears both down on every path.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/mcp/transport"
)

// DefaultShutdownTimeout bounds transport and server teardown.
const DefaultShutdownTimeout = 30 * time.Second

// Server is the part of server.Server the runner drives.
type Server interface {
	Start(ctx context.Context) error
	Run(ctx context.Context, sess transport.Session) error
	Stop(ctx context.Context) error
}

type options struct {
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithShutdownTimeout bounds how long teardown may take.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// Run starts srv and t, serves one session until it ends, then stops the
// transport and the server. Teardown steps are independent: a failing
// transport stop does not skip the server stop. Teardown errors are logged;
// the returned error is the one that ended the run.
func Run(ctx context.Context, srv Server, t transport.Transport, opts ...Option) (err error) {
	o := options{logger: zap.NewNop(), shutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named("runner")

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.shutdownTimeout)
		defer cancel()

		if stopErr := t.Stop(stopCtx); stopErr != nil {
			logger.Error("failed to stop transport", zap.String("transport", t.Name()), zap.Error(stopErr))
		}
		if stopErr := srv.Stop(stopCtx); stopErr != nil {
			logger.Error("failed to stop server", zap.Error(stopErr))
		}
		logger.Info("shutdown complete", zap.String("transport", t.Name()))
	}()

	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("start %s transport: %w", t.Name(), err)
	}
	logger.Info("transport started", zap.String("transport", t.Name()))

	err = transport.WithSession(ctx, t, srv.Run)
	if err != nil {
		logger.Error("session ended with error", zap.Error(err))
	}
	return err
}
