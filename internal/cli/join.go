package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/spf13/cobra"
)

func newJoinCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "join <room-code>",
		Short: "Join a room by its invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			client := api.New(flagServer, flagToken)
			room, err := client.JoinByCode(ctx, args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("joined room %q (id %s)\n", room.Name, room.ID)

			// Remember the room when a project config exists in this
			// directory.
			if _, err := os.Stat(configFileName); err == nil {
				if cfg := loadConfig(); cfg != nil {
					cfg.Room = room.ID
					if err := saveConfig(*cfg); err != nil {
						fmt.Fprintf(os.Stderr, "warning: could not update %s: %v\n", configFileName, err)
					} else {
						fmt.Printf("updated %s (room %s)\n", configFileName, room.ID)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "room password (for protected rooms)")

	return cmd
}
