package session

import (
	"github.com/mwhitfield/rtchat/internal/protocol"
)

// Event kinds delivered on RealtimeSession.Events().
const (
	EventState      = "state"       // connection state changed
	EventMessage    = "message"     // message appended or confirmed
	EventSendFailed = "send_failed" // a message reached terminal failure
	EventTyping     = "typing"      // typing indicator changed
	EventReaction   = "reaction"    // reaction projection changed
	EventPresence   = "presence"    // user joined or left the room
	EventUserCount  = "user_count"  // room occupancy changed
	EventHistory    = "history"     // history fetch applied (or failed)
)

// Event is the discriminated union the session emits to its consumer.
// Kind selects which fields are set.
type Event struct {
	Kind string

	State ConnState
	Err   error

	// Message is set for message and send_failed events. Fresh is true
	// only for broadcast messages not seen before, the signal a UI uses
	// to gate notification sounds. TempID identifies the optimistic entry
	// an ack, echo confirmation, or terminal failure resolved, so callers
	// can follow their own send to its server-assigned id.
	Message *protocol.Message
	Fresh   bool
	TempID  string

	Typing    *protocol.TypingData
	Reaction  *protocol.ReactionData
	Presence  *protocol.PresenceData
	Joined    bool
	UserCount int
}
