package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/mwhitfield/rtchat/internal/protocol"
	"github.com/mwhitfield/rtchat/internal/session"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var (
		body      string
		imagePath string
		videoPath string
		voicePath string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message to a room",
		Long: `Send a message to a room. Message content can come from:
  - Positional arguments (joined with spaces)
  - The --body flag
  - Stdin (if no args and no --body)
Media flags upload the file first and send the resulting link.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagRoom == "" {
				return fmt.Errorf("room is required (use -r or RTCHAT_ROOM)")
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			client := api.New(flagServer, flagToken)

			// Voice is special: the server broadcasts the message itself
			// as part of the upload.
			if voicePath != "" {
				audioURL, err := client.UploadVoice(ctx, flagRoom, voicePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "sent voice message to room %q (%s)\n", flagRoom, audioURL)
				return nil
			}

			var content string
			switch {
			case imagePath != "":
				url, err := client.UploadImage(ctx, imagePath)
				if err != nil {
					return err
				}
				content = protocol.MediaContent(protocol.MediaImage, url)
			case videoPath != "":
				url, err := client.UploadVideo(ctx, videoPath)
				if err != nil {
					return err
				}
				content = protocol.MediaContent(protocol.MediaVideo, url)
			case body != "":
				content = body
			case len(args) > 0:
				content = strings.Join(args, " ")
			default:
				// Read from stdin.
				stat, _ := os.Stdin.Stat()
				if (stat.Mode() & os.ModeCharDevice) == 0 {
					b, err := io.ReadAll(os.Stdin)
					if err != nil {
						return fmt.Errorf("read stdin: %w", err)
					}
					content = string(b)
				} else {
					return fmt.Errorf("no message provided (use args, --body, or pipe to stdin)")
				}
			}
			content = strings.TrimRight(content, "\n")

			return sendOverSession(content, timeout)
		},
	}

	cmd.Flags().StringVar(&body, "body", "", "message body (alternative to args/stdin)")
	cmd.Flags().StringVar(&imagePath, "image", "", "upload an image and send it")
	cmd.Flags().StringVar(&videoPath, "video", "", "upload a video and send it")
	cmd.Flags().StringVar(&voicePath, "voice", "", "upload a voice recording and send it")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "how long to wait for delivery confirmation")

	return cmd
}

// sendOverSession delivers the message through a live connection and waits
// for the server acknowledgment.
func sendOverSession(content string, timeout time.Duration) error {
	sess, _, err := newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.Connect()
	sess.SwitchRoom(flagRoom)

	// The dial runs asynchronously; sending before the transport is open
	// would report a failure against a healthy server.
	deadline := time.After(timeout)
	if err := waitConnected(sess, deadline); err != nil {
		return err
	}

	staged, err := sess.SendMessage(content)
	if err != nil {
		return err
	}
	if staged.Status == protocol.StatusFailed {
		return fmt.Errorf("message not delivered: no connection")
	}

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return fmt.Errorf("session closed before delivery")
			}
			switch ev.Kind {
			case session.EventMessage:
				// Confirmation is matched on the staged temp id, not the
				// content: another sender may submit identical text.
				if ev.TempID == staged.ID && ev.Message.Status == protocol.StatusSent {
					fmt.Fprintf(os.Stderr, "sent message to room %q (id %s)\n", flagRoom, ev.Message.ID)
					sess.Disconnect()
					return nil
				}
			case session.EventSendFailed:
				if ev.TempID == staged.ID {
					return fmt.Errorf("server rejected the message")
				}
			case session.EventState:
				if ev.State == session.StateFailed {
					if ev.Err != nil {
						return fmt.Errorf("connection failed: %w", ev.Err)
					}
					return fmt.Errorf("connection failed")
				}
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for delivery confirmation")
		}
	}
}

// waitConnected consumes session events until the connection is open or
// terminally failed.
func waitConnected(sess *session.RealtimeSession, deadline <-chan time.Time) error {
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return fmt.Errorf("session closed before connecting")
			}
			if ev.Kind != session.EventState {
				continue
			}
			switch ev.State {
			case session.StateConnected:
				return nil
			case session.StateFailed:
				if ev.Err != nil {
					return fmt.Errorf("connection failed: %w", ev.Err)
				}
				return fmt.Errorf("connection failed")
			}
		case <-deadline:
			return fmt.Errorf("timed out connecting")
		}
	}
}
