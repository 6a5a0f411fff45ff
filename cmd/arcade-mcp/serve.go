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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ArcadeAI/arcade-mcp-sub004/internal/version"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/config"
	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/runner"
)

// serveFlagKeys binds serve flags to settings keys.
var serveFlagKeys = map[string]string{
	"transport": "transport.type",
	"host":      "transport.host",
	"port":      "transport.port",
	"log-file":  "log_file",
	"log-level": "middleware.log_level",
	"debug":     "debug",
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: heredoc.Doc(`
			Start the MCP server on stdio (default) or streamable HTTP.

			The first SIGINT/SIGTERM stops accepting requests and waits for in-flight
			tool calls; a second one cancels them and exits.
		`),
		Example: heredoc.Doc(`
			arcade-mcp serve
			arcade-mcp serve --transport http --port 8000
			MCP_DATACACHE_REDIS_URL=redis://localhost:6379/0 arcade-mcp serve --debug
		`),
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	f := cmd.Flags()
	f.String("transport", config.TransportStdio, "transport (stdio, http)")
	f.String("host", "127.0.0.1", "HTTP bind host")
	f.Int("port", 8000, "HTTP bind port")
	f.String("log-file", "", "log file path (default: stderr; never stdout)")
	f.String("log-level", "INFO", "log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	f.Bool("debug", false, "debug logging and unmasked error details")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(cfgFile, cmd.Flags(), serveFlagKeys)
	if err != nil {
		return err
	}

	logger, err := buildLogger(settings.LogFile, settings.Middleware.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if settings.Transport.Type == config.TransportStdio && term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Warn("stdio transport is attached to a terminal; it expects an MCP client on stdin")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return serve(ctx, settings, logger, stdio{in: os.Stdin, out: os.Stdout}, true)
}

// serve runs the server until the transport ends or a signal drains it.
func serve(ctx context.Context, settings *config.Settings, logger *zap.Logger, std stdio, handleSignals bool) error {
	logger.Info("starting arcade-mcp",
		zap.String("version", version.Get()),
		zap.String("server", settings.Server.Name),
		zap.String("transport", settings.Transport.Type),
		zap.Bool("datacache", settings.Datacache.Enabled()),
	)

	a, err := newApp(ctx, settings, logger, std)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	if handleSignals {
		stop := runner.NewSignalHandler(a.server, runner.WithSignalLogger(logger)).Listen(ctx)
		defer stop()
	}

	if err := runner.Run(ctx, a.server, a.transport, runner.WithLogger(logger)); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
