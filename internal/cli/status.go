package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server reachability and current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Server: %s\n", flagServer)
			if flagRoom != "" {
				fmt.Printf("Room:   %s\n", flagRoom)
			}
			if flagName != "" {
				fmt.Printf("Name:   %s\n", flagName)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			client := api.New(flagServer, flagToken)
			rooms, err := client.Rooms(ctx)
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			fmt.Printf("Status: reachable (%d room(s))\n", len(rooms))
			return nil
		},
	}
}
