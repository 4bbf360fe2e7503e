// Package mcp exposes the chat client as Model Context Protocol tools so
// an agent can send and read messages from a stdio subprocess.
package mcp

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwhitfield/rtchat/internal/api"
)

// Config holds the configuration for the MCP server.
type Config struct {
	ServerURL string
	Token     string
	Room      string
	UserID    string
	Name      string
}

// Serve starts the MCP stdio server. It blocks until stdin is closed or a
// signal is received.
func Serve(cfg Config) error {
	client := api.New(cfg.ServerURL, cfg.Token)

	srv := mcpserver.NewMCPServer(
		"rtchat",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	RegisterTools(srv, client, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	stdioSrv := mcpserver.NewStdioServer(srv)
	return stdioSrv.Listen(ctx, os.Stdin, os.Stdout)
}
