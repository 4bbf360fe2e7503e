package protocol

import "encoding/json"

// Server frame message_type values.
const (
	ServerAck        = "message_ack"
	ServerMessage    = "message"
	ServerTyping     = "typing"
	ServerReaction   = "reaction"
	ServerUserCount  = "user_count"
	ServerUserJoined = "user_joined"
	ServerUserLeft   = "user_left"
	ServerPong       = "pong"
	ServerError      = "error"
)

// ServerFrame is the envelope for every server-to-client frame. Data is
// decoded lazily so unknown message types pass through without error.
type ServerFrame struct {
	MessageType string          `json:"message_type"`
	Data        json.RawMessage `json:"data"`
	Timestamp   int64           `json:"timestamp"`
	MessageID   string          `json:"message_id,omitempty"`
}

// AckData confirms (or rejects) a message sent with a temp id.
type AckData struct {
	TempID    string `json:"temp_id"`
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
}

// MessageData is a broadcast chat message. Timestamp is unix seconds.
type MessageData struct {
	ID               string `json:"id"`
	RoomID           string `json:"room_id"`
	UserID           string `json:"user_id"`
	UserName         string `json:"user_name"`
	UserProfileImage string `json:"user_profile_image,omitempty"`
	Content          string `json:"content"`
	Timestamp        int64  `json:"timestamp"`
}

// TypingData is a broadcast typing indicator.
type TypingData struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// ReactionData is a broadcast reaction add/remove.
type ReactionData struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Emoji     string `json:"emoji"`
	Add       bool   `json:"add"`
}

// UserCountData reports how many users are connected to a room.
type UserCountData struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
}

// PresenceData accompanies user_joined and user_left frames.
type PresenceData struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// ErrorData is a server-side error report.
type ErrorData struct {
	Error string `json:"error"`
}
