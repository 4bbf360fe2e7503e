package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagServer string
	flagRoom   string
	flagName   string
	flagUserID string
	flagToken  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rtchat",
		Short: "CLI for the real-time chat server",
	}

	// Resolve defaults: flags > env vars > .rtchat config > hardcoded defaults.
	defaultServer := "http://localhost:8080"
	defaultRoom := ""
	defaultName := ""
	defaultUserID := ""
	defaultToken := ""

	if cfg := loadConfig(); cfg != nil {
		if cfg.Server != "" {
			defaultServer = cfg.Server
		}
		if cfg.Room != "" {
			defaultRoom = cfg.Room
		}
		if cfg.Name != "" {
			defaultName = cfg.Name
		}
		if cfg.UserID != "" {
			defaultUserID = cfg.UserID
		}
		if cfg.Token != "" {
			defaultToken = cfg.Token
		}
	}

	root.PersistentFlags().StringVarP(&flagServer, "server", "s", envOrDefault("RTCHAT_SERVER", defaultServer), "server URL")
	root.PersistentFlags().StringVarP(&flagRoom, "room", "r", envOrDefault("RTCHAT_ROOM", defaultRoom), "room id")
	root.PersistentFlags().StringVarP(&flagName, "name", "n", envOrDefault("RTCHAT_NAME", defaultName), "display name")
	root.PersistentFlags().StringVar(&flagUserID, "user", envOrDefault("RTCHAT_USER_ID", defaultUserID), "user id")
	root.PersistentFlags().StringVar(&flagToken, "token", envOrDefault("RTCHAT_TOKEN", defaultToken), "auth token")

	root.AddCommand(
		newSendCmd(),
		newRecvCmd(),
		newWatchCmd(),
		newRoomsCmd(),
		newJoinCmd(),
		newInitCmd(),
		newStatusCmd(),
		newMCPServeCmd(),
	)

	return root
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
