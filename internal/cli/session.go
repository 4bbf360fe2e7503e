package cli

import (
	"fmt"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/mwhitfield/rtchat/internal/session"
)

// newSession builds a live session from the global flags. The REST client
// doubles as the history fetcher.
func newSession() (*session.RealtimeSession, *api.Client, error) {
	if flagRoom == "" {
		return nil, nil, fmt.Errorf("room is required (use -r or RTCHAT_ROOM)")
	}
	if flagName == "" {
		return nil, nil, fmt.Errorf("display name is required (use -n or RTCHAT_NAME)")
	}

	client := api.New(flagServer, flagToken)
	sess := session.New(session.Config{
		ServerURL: flagServer,
		Token:     flagToken,
		UserID:    flagUserID,
		UserName:  flagName,
		History:   client,
	})
	return sess, client, nil
}
