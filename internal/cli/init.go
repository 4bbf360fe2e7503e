package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [url] [name]",
		Short: "Set up a .rtchat config for this directory",
		Long: `Connects to a chat server, verifies the credentials work, and writes
a .rtchat config file in the current directory so all future commands
just work.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := ""
			name := ""
			if len(args) >= 1 {
				serverURL = args[0]
			}
			if len(args) >= 2 {
				name = args[1]
			}
			return runInit(serverURL, name)
		},
	}
	return cmd
}

func runInit(serverURL, name string) error {
	reader := bufio.NewReader(os.Stdin)

	if serverURL == "" {
		serverURL = flagServer
	}
	if serverURL == "" {
		fmt.Print("Server URL: ")
		line, _ := reader.ReadString('\n')
		serverURL = strings.TrimSpace(line)
	}
	if serverURL == "" {
		return fmt.Errorf("server URL is required")
	}
	serverURL = strings.TrimRight(serverURL, "/")

	token := flagToken
	if token == "" {
		fmt.Print("Auth token (leave empty for open servers): ")
		line, _ := reader.ReadString('\n')
		token = strings.TrimSpace(line)
	}

	if name == "" {
		name = flagName
	}
	if name == "" {
		fmt.Print("Your display name: ")
		line, _ := reader.ReadString('\n')
		name = strings.TrimSpace(line)
	}
	if name == "" {
		return fmt.Errorf("name is required")
	}

	userID := flagUserID
	if userID == "" {
		fmt.Print("Your user id: ")
		line, _ := reader.ReadString('\n')
		userID = strings.TrimSpace(line)
	}

	// Verify the server is reachable and the token works.
	fmt.Printf("Connecting to %s ...\n", serverURL)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client := api.New(serverURL, token)
	rooms, err := client.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("could not reach server: %w", err)
	}
	fmt.Printf("Connected! You are a member of %d room(s).\n", len(rooms))

	cfg := Config{
		Server: serverURL,
		UserID: userID,
		Name:   name,
		Token:  token,
	}
	if len(rooms) == 1 {
		cfg.Room = rooms[0].ID
		fmt.Printf("Defaulting to room %q (%s)\n", rooms[0].Name, rooms[0].ID)
	}

	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("write %s: %w", configFileName, err)
	}
	fmt.Printf("Wrote %s\n", configFileName)

	fmt.Println()
	fmt.Println("Quick commands:")
	fmt.Println(`  rtchat rooms`)
	fmt.Println(`  rtchat send -r <room-id> "hello everyone!"`)
	fmt.Println(`  rtchat watch -r <room-id>`)
	return nil
}
