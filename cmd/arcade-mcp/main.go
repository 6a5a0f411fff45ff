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

// arcade-mcp serves toolkits to MCP clients over stdio or streamable HTTP.
//
// Usage:
//
//	arcade-mcp serve                              # stdio, for desktop clients
//	arcade-mcp serve --transport http --port 8000 # HTTP on 127.0.0.1:8000/mcp
//
// Claude Desktop configuration (claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "arcade": {
//	      "command": "/path/to/arcade-mcp",
//	      "args": ["serve"]
//	    }
//	  }
//	}
//
// Settings come from $ARCADE_HOME/mcp.yaml (or --config), MCP_* environment
// variables and flags. Datacache settings also read ARCADE_DATACACHE_*.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArcadeAI/arcade-mcp-sub004/internal/version"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arcade-mcp",
		Short:         "Arcade MCP server - serve toolkits over the Model Context Protocol",
		Version:       version.Get(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $ARCADE_HOME/mcp.yaml or ./mcp.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the arcade-mcp version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "arcade-mcp %s\n", version.Get())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
