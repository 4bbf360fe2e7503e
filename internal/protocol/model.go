package protocol

import "time"

// MessageStatus tracks a message through the send/ack lifecycle.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// ReactionUser identifies one user within a reaction record.
type ReactionUser struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// ReactionRecord groups all users who reacted with one emoji. The server
// derives ID as "<message_id>:<emoji>"; Count always equals len(Users).
type ReactionRecord struct {
	ID    string         `json:"id"`
	Emoji string         `json:"emoji"`
	Users []ReactionUser `json:"users"`
	Count int            `json:"count"`
}

// Room describes a chat room as reported by the rooms endpoint.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsProtected bool      `json:"is_protected"`
	IsOwner     bool      `json:"is_owner"`
	RoomCode    string    `json:"room_code"`
	UserCount   int       `json:"user_count"`
}

// Message is the client's view of a chat message. While Status is
// StatusSending, ID holds a client-local temp id; the ack (or matching
// server echo) rewrites it to the server-assigned id. JSON tags match the
// room history endpoint.
type Message struct {
	ID        string           `json:"id"`
	RoomID    string           `json:"room_id"`
	UserID    string           `json:"user_id"`
	UserName  string           `json:"user_name"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
	Reactions []ReactionRecord `json:"reactions"`
	Status    MessageStatus    `json:"status,omitempty"`
}
