package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Transport is the minimal surface of an open real-time connection.
type Transport interface {
	// ReadMessage blocks until the next frame or a read error. A close
	// from the peer surfaces as an error carrying the close code.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close sends a normal-closure frame and tears the connection down.
	Close() error
}

// Dialer opens a Transport for the given WebSocket URL. The token, if any,
// is presented as a bearer Authorization header.
type Dialer func(ctx context.Context, wsURL, token string) (Transport, error)

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}

// DialWebSocket is the default Dialer, backed by gorilla/websocket.
func DialWebSocket(ctx context.Context, wsURL, token string) (Transport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return &wsTransport{conn: conn}, nil
}

// buildWSURL derives the WebSocket endpoint from the HTTP server URL,
// mirroring how the web client derives it from the page origin.
func buildWSURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/chat/ws"
	return u.String(), nil
}

// closeCode extracts the WebSocket close code from a read error, or -1 for
// errors with no close frame (network drop, reset).
func closeCode(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return -1
}

// Close-code classification: 1000 is a clean shutdown, 1008 is the server's
// policy-violation code used for failed authentication, everything else is
// a retryable abnormal closure.
func isNormalClose(code int) bool {
	return code == websocket.CloseNormalClosure
}

func isAuthClose(code int) bool {
	return code == websocket.ClosePolicyViolation
}
