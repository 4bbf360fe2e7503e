package session

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mwhitfield/rtchat/internal/protocol"
)

// Send-intent rejections. These are expected conditions, reported as
// values, never panics.
var (
	ErrEmptyContent  = errors.New("message content is empty")
	ErrDuplicateSend = errors.New("identical message submitted within the duplicate window")
	ErrNoRoom        = errors.New("no room selected")
)

// pendingMessage tracks an optimistic message awaiting its ack.
type pendingMessage struct {
	tempID     string
	content    string
	retryCount int
	createdAt  time.Time
}

type typingEntry struct {
	userName string
	at       time.Time
}

// TypingUser is one entry of the typing projection.
type TypingUser struct {
	UserID   string
	UserName string
}

// roomState is the reconciliation engine for one room: the authoritative
// ordered message list plus the bookkeeping that keeps it duplicate-free.
// It is owned by the session loop and never locked.
type roomState struct {
	id       string
	messages []protocol.Message
	known    map[string]bool // server-assigned ids already displayed
	pending  map[string]*pendingMessage
	typing   map[string]typingEntry
	userCount int

	// duplicate-submission guard
	lastStaged   string
	lastStagedAt time.Time
}

func newRoomState(id string) *roomState {
	return &roomState{
		id:      id,
		known:   make(map[string]bool),
		pending: make(map[string]*pendingMessage),
		typing:  make(map[string]typingEntry),
	}
}

// stage validates a send intent and inserts the optimistic message. The
// returned message carries the temp id and StatusSending.
func (r *roomState) stage(content, userID, userName string, now time.Time, window time.Duration) (protocol.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return protocol.Message{}, ErrEmptyContent
	}
	if content == r.lastStaged && now.Sub(r.lastStagedAt) < window {
		return protocol.Message{}, ErrDuplicateSend
	}
	r.lastStaged = content
	r.lastStagedAt = now

	msg := protocol.Message{
		ID:        "temp-" + uuid.New().String(),
		RoomID:    r.id,
		UserID:    userID,
		UserName:  userName,
		Content:   content,
		CreatedAt: now,
		Status:    protocol.StatusSending,
	}
	r.messages = append(r.messages, msg)
	r.pending[msg.ID] = &pendingMessage{tempID: msg.ID, content: content, createdAt: now}
	return msg, nil
}

// markFailed flips a pending message to StatusFailed and drops its pending
// entry. Reports whether anything changed (false makes repeats no-ops).
func (r *roomState) markFailed(tempID string) bool {
	if _, ok := r.pending[tempID]; !ok {
		return false
	}
	delete(r.pending, tempID)
	if i := r.indexOf(tempID); i >= 0 {
		r.messages[i].Status = protocol.StatusFailed
	}
	return true
}

// ack resolves a pending message. serverTS, when positive, is the server
// frame timestamp in unix seconds and replaces the optimistic created_at so
// the re-sort reflects server ordering. Duplicate acks are no-ops.
func (r *roomState) ack(a protocol.AckData, serverTS int64) bool {
	if _, ok := r.pending[a.TempID]; !ok {
		return false
	}
	delete(r.pending, a.TempID)
	i := r.indexOf(a.TempID)
	if i < 0 {
		return false
	}
	if !a.Success {
		r.messages[i].Status = protocol.StatusFailed
		return true
	}
	r.messages[i].ID = a.MessageID
	r.messages[i].Status = protocol.StatusSent
	if serverTS > 0 {
		r.messages[i].CreatedAt = time.Unix(serverTS, 0)
	}
	r.known[a.MessageID] = true
	r.sortMessages()
	return true
}

// applyServerMessage reconciles a broadcast message frame. The server
// echoes every message back to its sender, so the own-message case must
// confirm the matching optimistic entry instead of inserting a duplicate.
// fresh reports whether this is a message the user has not seen yet.
func (r *roomState) applyServerMessage(d protocol.MessageData, selfID string) (msg *protocol.Message, fresh bool) {
	if r.known[d.ID] {
		return nil, false
	}

	if d.UserID == selfID {
		// Best-effort echo matching: the broadcast carries no temp id, so
		// an own message is matched to the oldest pending entry with the
		// same content.
		if p := r.oldestPendingWithContent(d.Content); p != nil {
			delete(r.pending, p.tempID)
			if i := r.indexOf(p.tempID); i >= 0 {
				r.messages[i].ID = d.ID
				r.messages[i].Status = protocol.StatusSent
				r.messages[i].CreatedAt = time.Unix(d.Timestamp, 0)
				r.known[d.ID] = true
				r.sortMessages()
				return r.byID(d.ID), false
			}
		}
	}

	m := protocol.Message{
		ID:        d.ID,
		RoomID:    d.RoomID,
		UserID:    d.UserID,
		UserName:  d.UserName,
		Content:   d.Content,
		CreatedAt: time.Unix(d.Timestamp, 0),
		Status:    protocol.StatusSent,
	}
	r.messages = append(r.messages, m)
	r.known[d.ID] = true
	r.sortMessages()
	return r.byID(d.ID), true
}

// applyReaction projects a reaction add/remove onto the target message.
// The same function serves local optimistic updates and server broadcasts.
// Invariant on exit: count == len(users) and no user appears twice.
func (r *roomState) applyReaction(messageID, emoji, userID, userName string, add bool) bool {
	i := r.indexOf(messageID)
	if i < 0 {
		return false
	}
	msg := &r.messages[i]

	ri := -1
	for j := range msg.Reactions {
		if msg.Reactions[j].Emoji == emoji {
			ri = j
			break
		}
	}

	if add {
		if ri < 0 {
			msg.Reactions = append(msg.Reactions, protocol.ReactionRecord{
				ID:    messageID + ":" + emoji,
				Emoji: emoji,
				Users: []protocol.ReactionUser{{UserID: userID, UserName: userName}},
				Count: 1,
			})
			return true
		}
		rec := &msg.Reactions[ri]
		for _, u := range rec.Users {
			if u.UserID == userID {
				return false
			}
		}
		rec.Users = append(rec.Users, protocol.ReactionUser{UserID: userID, UserName: userName})
		rec.Count = len(rec.Users)
		return true
	}

	if ri < 0 {
		return false
	}
	rec := &msg.Reactions[ri]
	for j, u := range rec.Users {
		if u.UserID == userID {
			rec.Users = append(rec.Users[:j], rec.Users[j+1:]...)
			rec.Count = len(rec.Users)
			if rec.Count == 0 {
				msg.Reactions = append(msg.Reactions[:ri], msg.Reactions[ri+1:]...)
			}
			return true
		}
	}
	return false
}

// applyTyping updates the ephemeral typing map. Entries are never expired
// here; readers filter by freshness so there is a single timer authority.
func (r *roomState) applyTyping(d protocol.TypingData, now time.Time) {
	if d.IsTyping {
		r.typing[d.UserID] = typingEntry{userName: d.UserName, at: now}
	} else {
		delete(r.typing, d.UserID)
	}
}

// typingUsers returns users whose typing indicator is newer than window.
func (r *roomState) typingUsers(now time.Time, window time.Duration) []TypingUser {
	var out []TypingUser
	for id, e := range r.typing {
		if now.Sub(e.at) <= window {
			out = append(out, TypingUser{UserID: id, UserName: e.userName})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// sweepRetry returns the pending messages due for a resend and marks as
// failed those that exhausted their retries. Retry counts increment here.
func (r *roomState) sweepRetry(now time.Time, age time.Duration, maxRetries int) (resend []*pendingMessage, failed []string) {
	for _, p := range r.pending {
		if now.Sub(p.createdAt) < age {
			continue
		}
		if p.retryCount >= maxRetries {
			failed = append(failed, p.tempID)
			continue
		}
		p.retryCount++
		resend = append(resend, p)
	}
	for _, id := range failed {
		r.markFailed(id)
	}
	return resend, failed
}

// sweepStale drops pending messages older than maxAge regardless of retry
// count, the hard bound against a wedged send path.
func (r *roomState) sweepStale(now time.Time, maxAge time.Duration) []string {
	var dropped []string
	for _, p := range r.pending {
		if now.Sub(p.createdAt) >= maxAge {
			dropped = append(dropped, p.tempID)
		}
	}
	for _, id := range dropped {
		r.markFailed(id)
	}
	return dropped
}

// loadHistory merges fetched history into the list. Messages that already
// arrived live are left alone; everything loaded is registered as known so
// switching into a room never re-notifies old messages.
func (r *roomState) loadHistory(msgs []protocol.Message) {
	for _, m := range msgs {
		if m.ID == "" || r.known[m.ID] {
			continue
		}
		m.Status = protocol.StatusSent
		r.messages = append(r.messages, m)
		r.known[m.ID] = true
	}
	r.sortMessages()
}

func (r *roomState) sortMessages() {
	sort.SliceStable(r.messages, func(i, j int) bool {
		return r.messages[i].CreatedAt.Before(r.messages[j].CreatedAt)
	})
}

func (r *roomState) indexOf(id string) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *roomState) byID(id string) *protocol.Message {
	if i := r.indexOf(id); i >= 0 {
		return &r.messages[i]
	}
	return nil
}

func (r *roomState) oldestPendingWithContent(content string) *pendingMessage {
	var oldest *pendingMessage
	for _, p := range r.pending {
		if p.content != content {
			continue
		}
		if oldest == nil || p.createdAt.Before(oldest.createdAt) {
			oldest = p
		}
	}
	return oldest
}

// snapshot returns a copy of the message list safe to hand outside the
// loop.
func (r *roomState) snapshot() []protocol.Message {
	out := make([]protocol.Message, len(r.messages))
	copy(out, r.messages)
	for i := range out {
		if n := len(out[i].Reactions); n > 0 {
			rs := make([]protocol.ReactionRecord, n)
			copy(rs, out[i].Reactions)
			for j := range rs {
				us := make([]protocol.ReactionUser, len(rs[j].Users))
				copy(us, rs[j].Users)
				rs[j].Users = us
			}
			out[i].Reactions = rs
		}
	}
	return out
}
