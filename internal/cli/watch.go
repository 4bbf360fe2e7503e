package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/mwhitfield/rtchat/internal/session"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a room for live messages",
		Long: `Connects to the server, joins the room, prints history and then live
messages as they arrive. Reconnects automatically on connection loss.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, _, err := newSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			fmt.Fprintf(os.Stderr, "connecting to %s ...\n", flagServer)
			sess.Connect()
			sess.SwitchRoom(flagRoom)

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)

			format := formatColor
			if noColor {
				format = formatPlain
			}

			for {
				select {
				case ev, ok := <-sess.Events():
					if !ok {
						return nil
					}
					switch ev.Kind {
					case session.EventState:
						fmt.Fprintf(os.Stderr, "* %s\n", ev.State)
						if ev.State == session.StateFailed {
							if ev.Err != nil {
								return fmt.Errorf("connection failed: %w", ev.Err)
							}
							return fmt.Errorf("connection failed")
						}
					case session.EventHistory:
						if ev.Err != nil {
							fmt.Fprintf(os.Stderr, "* history unavailable: %v\n", ev.Err)
							continue
						}
						for _, msg := range sess.Messages() {
							fmt.Println(format(msg))
						}
					case session.EventMessage:
						if ev.Fresh {
							fmt.Println(format(*ev.Message))
						}
					case session.EventTyping:
						if ev.Typing.IsTyping {
							fmt.Fprintf(os.Stderr, "* %s is typing...\n", ev.Typing.UserName)
						}
					case session.EventReaction:
						verb := "reacted"
						if !ev.Reaction.Add {
							verb = "unreacted"
						}
						fmt.Fprintf(os.Stderr, "* %s %s %s\n", ev.Reaction.UserName, verb, ev.Reaction.Emoji)
					case session.EventPresence:
						verb := "left"
						if ev.Joined {
							verb = "joined"
						}
						fmt.Fprintf(os.Stderr, "* %s %s the room\n", ev.Presence.UserName, verb)
					case session.EventUserCount:
						fmt.Fprintf(os.Stderr, "* %d user(s) in room\n", ev.UserCount)
					case session.EventSendFailed:
						fmt.Fprintf(os.Stderr, "* send failed: %s\n", strings.TrimSpace(ev.Message.Content))
					}
				case <-interrupt:
					fmt.Fprintln(os.Stderr, "\ndisconnecting...")
					sess.Disconnect()
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output (useful for piping/logging)")

	return cmd
}
