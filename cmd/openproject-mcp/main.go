// OpenProject MCP Server
//
// Exposes an OpenProject instance's REST API as MCP tools so AI
// coding agents can read and manage work packages, projects, time
// entries, and attachments.
//
// Usage:
//
//	openproject-mcp serve              # stdio transport
//	openproject-mcp serve-http --addr :8080
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/openproject-tools/openproject-mcp/internal/config"
	opserver "github.com/openproject-tools/openproject-mcp/internal/server"
)

var (
	configPath string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "openproject-mcp",
	Short: "MCP server for OpenProject",
	Long: `openproject-mcp bridges AI agents and an OpenProject instance.

It speaks the Model Context Protocol on stdin/stdout (or HTTP) and
translates tool calls into OpenProject REST API requests: work
packages, projects, users, time tracking, attachments, and saved
queries.

Configuration comes from ` + config.DefaultFile + ` in the working
directory (or --config) layered under environment variables:

  ` + config.EnvBaseURL + `   instance URL (required)
  ` + config.EnvAPIKey + `    API key (required, environment-only)`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildServer()
		if err != nil {
			return err
		}
		return server.ServeStdio(s)
	},
}

var serveHTTPCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Start the MCP server on streamable HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildServer()
		if err != nil {
			return err
		}
		httpServer := server.NewStreamableHTTPServer(s)

		// Shut down cleanly on interrupt.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			_ = httpServer.Shutdown(cmd.Context())
		}()

		fmt.Fprintf(os.Stderr, "openproject-mcp listening on %s\n", httpAddr)
		return httpServer.Start(httpAddr)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("openproject-mcp v%s\n", opserver.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	serveHTTPCmd.Flags().StringVar(&httpAddr, "addr", ":8080", "listen address")

	rootCmd.AddCommand(serveCmd, serveHTTPCmd, versionCmd)
}

// buildServer loads and validates configuration, then wires the MCP
// server. Logs go to stderr so stdout stays clean for the stdio
// transport.
func buildServer() (*server.MCPServer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return opserver.New(cfg, log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
