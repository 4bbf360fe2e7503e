package session

import (
	"context"
	"time"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

// HistoryFetcher loads a room's message history over HTTP. Implemented by
// api.Client; faked in tests.
type HistoryFetcher interface {
	RoomMessages(ctx context.Context, roomID string) ([]protocol.Message, error)
}

// Config configures a RealtimeSession. Zero values are filled in with the
// defaults below; every interval and limit is a tunable, not a protocol
// requirement.
type Config struct {
	// ServerURL is the HTTP(S) base URL of the chat backend. The WebSocket
	// endpoint is derived from it unless WSURL is set explicitly.
	ServerURL string
	WSURL     string

	// Token authenticates the WebSocket handshake and history fetches.
	Token string

	// UserID and UserName identify the local user; the reconciliation
	// engine needs them to match its own echoed messages.
	UserID   string
	UserName string

	// History fetches room history on room switches. Optional; without it
	// a room switch starts from an empty list.
	History HistoryFetcher

	// Dialer opens the transport. Defaults to a gorilla/websocket dialer;
	// tests substitute an in-memory pipe.
	Dialer Dialer

	MaxAttempts       int           // reconnect attempts before Failed (5)
	BackoffBase       time.Duration // first reconnect delay (1s)
	BackoffCap        time.Duration // reconnect delay ceiling (30s)
	ReconnectDelay    time.Duration // fixed delay for manual Reconnect (250ms)
	HeartbeatInterval time.Duration // ping cadence while connected (25s)
	RetryInterval     time.Duration // pending-message retry sweep cadence (5s)
	RetryAge          time.Duration // pending age before a retry (5s)
	MaxRetries        int           // resends before a pending fails (3)
	CleanupInterval   time.Duration // stale-pending sweep cadence (10s)
	PendingMaxAge     time.Duration // hard bound on pending lifetime (30s)
	DuplicateWindow   time.Duration // duplicate-submission guard (1s)
	EventBuffer       int           // session event channel capacity (64)
}

func (c *Config) defaults() {
	if c.Dialer == nil {
		c.Dialer = DialWebSocket
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 250 * time.Millisecond
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.RetryAge == 0 {
		c.RetryAge = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 10 * time.Second
	}
	if c.PendingMaxAge == 0 {
		c.PendingMaxAge = 30 * time.Second
	}
	if c.DuplicateWindow == 0 {
		c.DuplicateWindow = time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
}

// backoffDelay computes the reconnect delay for the given attempt number:
// base doubled per attempt, capped.
func (c *Config) backoffDelay(attempt int) time.Duration {
	d := c.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.BackoffCap {
			return c.BackoffCap
		}
	}
	if d > c.BackoffCap {
		return c.BackoffCap
	}
	return d
}
