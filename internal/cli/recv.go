package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/mwhitfield/rtchat/internal/protocol"
	"github.com/spf13/cobra"
)

func newRecvCmd() *cobra.Command {
	var (
		latest int
		format string
	)

	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Print the message history of a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagRoom == "" {
				return fmt.Errorf("room is required (use -r or RTCHAT_ROOM)")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			client := api.New(flagServer, flagToken)
			msgs, err := client.RoomMessages(ctx, flagRoom)
			if err != nil {
				return err
			}

			if latest > 0 && len(msgs) > latest {
				msgs = msgs[len(msgs)-latest:]
			}
			return printMessages(msgs, format)
		},
	}

	cmd.Flags().IntVar(&latest, "latest", 0, "print only the N most recent messages")
	cmd.Flags().StringVar(&format, "format", "plain", "output format: plain, json")

	return cmd
}

func printMessages(msgs []protocol.Message, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}

	if len(msgs) == 0 {
		fmt.Println("no messages")
		return nil
	}

	for _, msg := range msgs {
		fmt.Println(formatPlain(msg))
	}
	return nil
}
