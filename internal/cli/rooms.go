package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/spf13/cobra"
)

func newRoomsCmd() *cobra.Command {
	var create string
	var description string
	var password string

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List your rooms (or create one with --create)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			client := api.New(flagServer, flagToken)

			if create != "" {
				room, err := client.CreateRoom(ctx, create, description, password)
				if err != nil {
					return err
				}
				fmt.Printf("created room %q (id %s, code %s)\n", room.Name, room.ID, room.RoomCode)
				return nil
			}

			rooms, err := client.Rooms(ctx)
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Println("no rooms")
				return nil
			}

			fmt.Printf("%-24s %-8s %6s %-36s\n", "NAME", "CODE", "USERS", "ID")
			for _, r := range rooms {
				name := r.Name
				if r.IsProtected {
					name += " *"
				}
				fmt.Printf("%-24s %-8s %6d %-36s\n", name, r.RoomCode, r.UserCount, r.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&create, "create", "", "create a room with this name")
	cmd.Flags().StringVar(&description, "description", "", "room description (with --create)")
	cmd.Flags().StringVar(&password, "password", "", "room password (with --create)")

	return cmd
}
