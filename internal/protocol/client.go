package protocol

// Client frame types, tagged by the "type" field.
const (
	TypeJoin     = "join"
	TypeLeave    = "leave"
	TypeMessage  = "message"
	TypeTyping   = "typing"
	TypeReaction = "reaction"
	TypePing     = "ping"
)

// ClientEvent is a client-to-server frame. Which fields are meaningful
// depends on Type; the server ignores the rest.
type ClientEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id,omitempty"`
	Content   string `json:"content,omitempty"`
	TempID    string `json:"temp_id,omitempty"`
	IsTyping  bool   `json:"is_typing"`
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Add       bool   `json:"add"`
}

// Join subscribes the connection to a room.
func Join(roomID string) ClientEvent {
	return ClientEvent{Type: TypeJoin, RoomID: roomID}
}

// Leave unsubscribes the connection from a room.
func Leave(roomID string) ClientEvent {
	return ClientEvent{Type: TypeLeave, RoomID: roomID}
}

// SendMessage carries message content plus the client-generated temp id
// the server echoes back in the ack.
func SendMessage(roomID, content, tempID string) ClientEvent {
	return ClientEvent{Type: TypeMessage, RoomID: roomID, Content: content, TempID: tempID}
}

// Typing reports the local user's typing state for a room.
func Typing(roomID string, isTyping bool) ClientEvent {
	return ClientEvent{Type: TypeTyping, RoomID: roomID, IsTyping: isTyping}
}

// Reaction adds or removes an emoji reaction on a message.
func Reaction(messageID, emoji string, add bool) ClientEvent {
	return ClientEvent{Type: TypeReaction, MessageID: messageID, Emoji: emoji, Add: add}
}

// Ping is the application-level heartbeat frame.
func Ping() ClientEvent {
	return ClientEvent{Type: TypePing}
}
