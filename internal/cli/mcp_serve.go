package cli

import (
	"fmt"

	"github.com/mwhitfield/rtchat/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "mcp-serve",
		Short:  "Start the MCP stdio server for agent integration",
		Long:   `Runs a Model Context Protocol (MCP) server over stdio. An agent connects to this as a subprocess to access chat tools (send_message, get_messages, list_rooms, react).`,
		Hidden: true, // Not typically called by users directly
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagServer == "" {
				return fmt.Errorf("server URL is required (use --server or .rtchat config)")
			}
			return mcp.Serve(mcp.Config{
				ServerURL: flagServer,
				Token:     flagToken,
				Room:      flagRoom,
				UserID:    flagUserID,
				Name:      flagName,
			})
		},
	}
	return cmd
}
