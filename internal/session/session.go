// Package session implements the client side of the real-time chat
// protocol: the connection state machine with reconnect backoff, the
// outbound queue, room membership replay, and the reconciliation engine
// that merges optimistic local messages with server acks and broadcasts.
//
// All state lives on a single event-loop goroutine. Transport reads, timer
// fires, and public API calls funnel into that loop, so no state is ever
// locked and handlers tolerate any interleaving of timers and frames.
package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

// frame carries one transport read result into the loop. gen ties it to
// the connection generation that produced it so frames from a torn-down
// connection are discarded.
type frame struct {
	gen  int
	data []byte
	err  error
}

// RealtimeSession owns one real-time connection and the message state for
// the currently selected room. Construct with New, start with Connect,
// stop with Close.
type RealtimeSession struct {
	cfg Config

	cmds   chan func()
	frames chan frame
	events chan Event

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the loop goroutine.
	state      ConnState
	conn       Transport
	gen        int
	attempts   int
	queue      outboundQueue
	rooms      map[string]bool
	room       *roomState
	retryTimer *time.Timer
	pingSentAt time.Time
	latency    time.Duration
}

// New creates a session. The session is idle until Connect is called.
func New(cfg Config) *RealtimeSession {
	cfg.defaults()
	s := &RealtimeSession{
		cfg:      cfg,
		cmds:     make(chan func(), 32),
		frames:   make(chan frame, 64),
		events:   make(chan Event, cfg.EventBuffer),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		rooms:    make(map[string]bool),
		state:    StateDisconnected,
	}
	go s.run()
	return s
}

// Events returns the channel of session events. The channel is closed by
// Close. Slow consumers lose events rather than stalling the session.
func (s *RealtimeSession) Events() <-chan Event {
	return s.events
}

// Close tears the session down: timers stopped, transport closed with a
// normal closure, event channel closed. Safe to call more than once.
func (s *RealtimeSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.loopDone
}

// ── public API: every method funnels into the loop ──

// Connect opens the transport. Idempotent: a no-op while connecting or
// connected.
func (s *RealtimeSession) Connect() {
	s.post(func() { s.connect() })
}

// Disconnect closes the transport with a normal closure, cancels any
// pending reconnect, and drops the outbound queue. Buffered events are
// abandoned, not persisted.
func (s *RealtimeSession) Disconnect() {
	s.post(func() {
		s.teardownConn()
		s.queue.clear()
		s.setState(StateDisconnected, nil)
	})
}

// Reconnect forces a fresh connection after a short fixed delay and resets
// the attempt counter. This is the manual, user-triggered retry; it also
// leaves StateFailed.
func (s *RealtimeSession) Reconnect() {
	s.post(func() {
		s.teardownConn()
		s.attempts = 0
		s.setState(StateReconnecting, nil)
		s.retryTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
			s.post(func() {
				if s.state == StateReconnecting {
					s.connect()
				}
			})
		})
	})
}

// JoinRoom adds a room to the membership set and announces it. The full
// set is replayed on every successful (re)connect, so the server's view
// self-heals after any disconnect.
func (s *RealtimeSession) JoinRoom(roomID string) {
	s.post(func() {
		s.rooms[roomID] = true
		s.send(protocol.Join(roomID), true)
	})
}

// LeaveRoom removes a room from the membership set and announces it.
func (s *RealtimeSession) LeaveRoom(roomID string) {
	s.post(func() {
		delete(s.rooms, roomID)
		s.send(protocol.Leave(roomID), true)
	})
}

// SwitchRoom selects roomID as the current room: membership moves over,
// all per-room state is discarded, and a history fetch is issued. A fetch
// still in flight for the previous room is discarded on arrival.
func (s *RealtimeSession) SwitchRoom(roomID string) {
	s.post(func() {
		if s.room != nil && s.room.id == roomID {
			return
		}
		if s.room != nil {
			delete(s.rooms, s.room.id)
			s.send(protocol.Leave(s.room.id), true)
		}
		s.rooms[roomID] = true
		s.send(protocol.Join(roomID), true)
		s.room = newRoomState(roomID)
		s.fetchHistory(roomID)
	})
}

// SendMessage stages an optimistic message for the current room and
// transmits it. The returned message carries the temp id and the status
// after the synchronous part of the send: StatusSending when transmitted
// or queued behind a live connection, StatusFailed when the transport was
// down. Empty and duplicate submissions are rejected with ErrEmptyContent
// and ErrDuplicateSend.
func (s *RealtimeSession) SendMessage(content string) (protocol.Message, error) {
	var msg protocol.Message
	var err error
	s.call(func() {
		if s.room == nil {
			err = ErrNoRoom
			return
		}
		msg, err = s.room.stage(content, s.cfg.UserID, s.cfg.UserName, time.Now(), s.cfg.DuplicateWindow)
		if err != nil {
			return
		}
		if !s.send(protocol.SendMessage(s.room.id, msg.Content, msg.ID), false) {
			// Transport down: the user sees the failure immediately
			// instead of a message stuck in a time-based retry sweep.
			// The frame send just buffered is purged with it, or a later
			// flush would deliver a message the user was told failed.
			s.queue.removeMessage(msg.ID)
			s.room.markFailed(msg.ID)
			msg.Status = protocol.StatusFailed
		}
	})
	return msg, err
}

// SetTyping reports the local user's typing state for the current room.
func (s *RealtimeSession) SetTyping(isTyping bool) {
	s.post(func() {
		if s.room == nil {
			return
		}
		s.send(protocol.Typing(s.room.id, isTyping), false)
	})
}

// ToggleReaction applies a reaction optimistically and transmits it. The
// server broadcast later confirms or corrects remote users' views through
// the same projection.
func (s *RealtimeSession) ToggleReaction(messageID, emoji string, add bool) {
	s.post(func() {
		if s.room == nil {
			return
		}
		if s.room.applyReaction(messageID, emoji, s.cfg.UserID, s.cfg.UserName, add) {
			s.emit(Event{Kind: EventReaction, Reaction: &protocol.ReactionData{
				MessageID: messageID, UserID: s.cfg.UserID, UserName: s.cfg.UserName,
				Emoji: emoji, Add: add,
			}})
			s.send(protocol.Reaction(messageID, emoji, add), false)
		}
	})
}

// State returns the current connection state.
func (s *RealtimeSession) State() ConnState {
	var st ConnState
	s.call(func() { st = s.state })
	return st
}

// Messages returns a copy of the current room's ordered message list.
func (s *RealtimeSession) Messages() []protocol.Message {
	var out []protocol.Message
	s.call(func() {
		if s.room != nil {
			out = s.room.snapshot()
		}
	})
	return out
}

// TypingUsers returns users whose typing indicator is fresher than window.
func (s *RealtimeSession) TypingUsers(window time.Duration) []TypingUser {
	var out []TypingUser
	s.call(func() {
		if s.room != nil {
			out = s.room.typingUsers(time.Now(), window)
		}
	})
	return out
}

// UserCount returns the last reported occupancy of the current room.
func (s *RealtimeSession) UserCount() int {
	var n int
	s.call(func() {
		if s.room != nil {
			n = s.room.userCount
		}
	})
	return n
}

// PendingCount returns the number of messages awaiting acknowledgment.
func (s *RealtimeSession) PendingCount() int {
	var n int
	s.call(func() {
		if s.room != nil {
			n = len(s.room.pending)
		}
	})
	return n
}

// Latency returns the round-trip time of the last heartbeat, for
// diagnostics only.
func (s *RealtimeSession) Latency() time.Duration {
	var d time.Duration
	s.call(func() { d = s.latency })
	return d
}

// QueuedCount returns the number of buffered outbound events.
func (s *RealtimeSession) QueuedCount() int {
	var n int
	s.call(func() { n = s.queue.len() })
	return n
}

// ── loop plumbing ──

func (s *RealtimeSession) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

func (s *RealtimeSession) call(fn func()) {
	ch := make(chan struct{})
	s.post(func() {
		fn()
		close(ch)
	})
	select {
	case <-ch:
	case <-s.loopDone:
	}
}

func (s *RealtimeSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Printf("session: event channel full, dropping %s event", ev.Kind)
	}
}

func (s *RealtimeSession) run() {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	retry := time.NewTicker(s.cfg.RetryInterval)
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer func() {
		heartbeat.Stop()
		retry.Stop()
		cleanup.Stop()
		s.teardownConn()
		close(s.events)
		close(s.loopDone)
	}()

	for {
		select {
		case fn := <-s.cmds:
			fn()
		case f := <-s.frames:
			s.handleFrame(f)
		case <-heartbeat.C:
			s.heartbeat()
		case <-retry.C:
			s.retrySweep()
		case <-cleanup.C:
			s.cleanupSweep()
		case <-s.done:
			return
		}
	}
}

// ── connection state machine ──

func (s *RealtimeSession) connect() {
	if s.state == StateConnecting || s.state == StateConnected {
		return
	}
	wsURL := s.cfg.WSURL
	if wsURL == "" {
		var err error
		wsURL, err = buildWSURL(s.cfg.ServerURL)
		if err != nil {
			// Construction error: nothing to retry against.
			s.setState(StateFailed, err)
			return
		}
	}
	s.setState(StateConnecting, nil)
	s.gen++
	gen := s.gen
	go func() {
		t, err := s.cfg.Dialer(context.Background(), wsURL, s.cfg.Token)
		s.post(func() { s.dialDone(gen, t, err) })
	}()
}

func (s *RealtimeSession) dialDone(gen int, t Transport, err error) {
	if gen != s.gen || s.state != StateConnecting {
		if t != nil {
			t.Close()
		}
		return
	}
	if err != nil {
		log.Printf("session: connect failed: %v", err)
		s.handleAbnormal(err)
		return
	}

	s.conn = t
	s.attempts = 0
	s.setState(StateConnected, nil)
	s.startReader(gen, t)
	s.flushQueue()
	s.replayRooms()
}

func (s *RealtimeSession) startReader(gen int, t Transport) {
	go func() {
		for {
			data, err := t.ReadMessage()
			f := frame{gen: gen, data: data, err: err}
			select {
			case s.frames <- f:
			case <-s.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

func (s *RealtimeSession) handleClose(err error) {
	s.conn = nil
	s.gen++ // orphan any frames still in flight from this connection
	code := closeCode(err)
	switch {
	case isNormalClose(code):
		s.setState(StateDisconnected, nil)
	case isAuthClose(code):
		// Fatal: the server rejected our credentials. Retrying cannot
		// help; the user has to log in again.
		log.Printf("session: authentication rejected by server: %v", err)
		s.setState(StateFailed, err)
	default:
		if code == -1 {
			// Transport error with no close frame. Surface the error
			// state before the close handling, as a real close would.
			s.setState(StateError, err)
		}
		s.handleAbnormal(err)
	}
}

func (s *RealtimeSession) handleAbnormal(err error) {
	if s.attempts >= s.cfg.MaxAttempts {
		log.Printf("session: giving up after %d reconnect attempts", s.attempts)
		s.setState(StateFailed, err)
		return
	}
	delay := s.cfg.backoffDelay(s.attempts)
	s.attempts++
	log.Printf("session: reconnecting in %s (attempt %d/%d)", delay, s.attempts, s.cfg.MaxAttempts)
	s.setState(StateReconnecting, err)
	s.retryTimer = time.AfterFunc(delay, func() {
		s.post(func() {
			if s.state == StateReconnecting {
				s.connect()
			}
		})
	})
}

// teardownConn closes the transport and cancels reconnect timers without
// touching queue or room state.
func (s *RealtimeSession) teardownConn() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.gen++
}

func (s *RealtimeSession) setState(st ConnState, err error) {
	if s.state == st {
		return
	}
	s.state = st
	s.emit(Event{Kind: EventState, State: st, Err: err})
}

// ── sending ──

// send transmits ev immediately when the transport is open, returning
// true. Otherwise the event is buffered and false is returned. A write
// failure requeues the event as priority; send never panics on transport
// trouble.
func (s *RealtimeSession) send(ev protocol.ClientEvent, priority bool) bool {
	if s.state != StateConnected || s.conn == nil {
		s.queue.push(ev, priority, time.Now())
		return false
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("session: marshal %s event: %v", ev.Type, err)
		return false
	}
	if err := s.conn.WriteMessage(data); err != nil {
		log.Printf("session: write failed, requeueing %s event: %v", ev.Type, err)
		s.queue.push(ev, true, time.Now())
		return false
	}
	return true
}

func (s *RealtimeSession) flushQueue() {
	for _, env := range s.queue.drain() {
		s.send(env.event, env.priority)
	}
}

func (s *RealtimeSession) replayRooms() {
	for roomID := range s.rooms {
		s.send(protocol.Join(roomID), true)
	}
}

func (s *RealtimeSession) heartbeat() {
	if s.state != StateConnected {
		return
	}
	s.pingSentAt = time.Now()
	s.send(protocol.Ping(), true)
}

// ── sweeps ──

func (s *RealtimeSession) retrySweep() {
	if s.room == nil {
		return
	}
	resend, failed := s.room.sweepRetry(time.Now(), s.cfg.RetryAge, s.cfg.MaxRetries)
	for _, p := range resend {
		s.send(protocol.SendMessage(s.room.id, p.content, p.tempID), false)
	}
	s.emitFailures(failed)
}

func (s *RealtimeSession) cleanupSweep() {
	if s.room == nil {
		return
	}
	s.emitFailures(s.room.sweepStale(time.Now(), s.cfg.PendingMaxAge))
}

func (s *RealtimeSession) emitFailures(tempIDs []string) {
	for _, id := range tempIDs {
		s.queue.removeMessage(id)
		if m := s.room.byID(id); m != nil {
			cp := *m
			s.emit(Event{Kind: EventSendFailed, Message: &cp, TempID: id})
		}
	}
}

// ── inbound frames ──

func (s *RealtimeSession) handleFrame(f frame) {
	if f.gen != s.gen {
		return // stale connection
	}
	if f.err != nil {
		s.handleClose(f.err)
		return
	}

	var sf protocol.ServerFrame
	if err := json.Unmarshal(f.data, &sf); err != nil {
		log.Printf("session: dropping malformed frame: %v", err)
		return
	}

	switch sf.MessageType {
	case protocol.ServerAck:
		s.handleAck(sf)
	case protocol.ServerMessage:
		s.handleMessage(sf)
	case protocol.ServerTyping:
		s.handleTyping(sf)
	case protocol.ServerReaction:
		s.handleReaction(sf)
	case protocol.ServerUserCount:
		s.handleUserCount(sf)
	case protocol.ServerUserJoined, protocol.ServerUserLeft:
		s.handlePresence(sf)
	case protocol.ServerPong:
		if !s.pingSentAt.IsZero() {
			s.latency = time.Since(s.pingSentAt)
		}
	case protocol.ServerError:
		var d protocol.ErrorData
		if json.Unmarshal(sf.Data, &d) == nil {
			log.Printf("session: server error: %s", d.Error)
		}
	default:
		// Forward compatible: unknown types are logged and ignored.
		log.Printf("session: ignoring unknown message_type %q", sf.MessageType)
	}
}

func (s *RealtimeSession) handleAck(sf protocol.ServerFrame) {
	var d protocol.AckData
	if err := json.Unmarshal(sf.Data, &d); err != nil {
		log.Printf("session: dropping malformed ack: %v", err)
		return
	}
	if s.room == nil || !s.room.ack(d, sf.Timestamp) {
		return
	}
	if m := s.room.byID(d.MessageID); d.Success && m != nil {
		cp := *m
		s.emit(Event{Kind: EventMessage, Message: &cp, TempID: d.TempID})
		return
	}
	if m := s.room.byID(d.TempID); m != nil {
		cp := *m
		s.emit(Event{Kind: EventSendFailed, Message: &cp, TempID: d.TempID})
	}
}

func (s *RealtimeSession) handleMessage(sf protocol.ServerFrame) {
	var d protocol.MessageData
	if err := json.Unmarshal(sf.Data, &d); err != nil {
		log.Printf("session: dropping malformed message: %v", err)
		return
	}
	if s.room == nil || d.RoomID != s.room.id {
		return
	}
	// An own echo consumes the matching pending entry, so record its temp
	// id up front; the confirmation event carries the staged lineage the
	// same way an ack does.
	var tempID string
	if d.UserID == s.cfg.UserID {
		if p := s.room.oldestPendingWithContent(d.Content); p != nil {
			tempID = p.tempID
		}
	}
	msg, fresh := s.room.applyServerMessage(d, s.cfg.UserID)
	if msg != nil {
		cp := *msg
		ev := Event{Kind: EventMessage, Message: &cp, Fresh: fresh}
		if !fresh {
			ev.TempID = tempID
		}
		s.emit(ev)
	}
}

func (s *RealtimeSession) handleTyping(sf protocol.ServerFrame) {
	var d protocol.TypingData
	if err := json.Unmarshal(sf.Data, &d); err != nil {
		return
	}
	if s.room == nil || (d.RoomID != "" && d.RoomID != s.room.id) {
		return
	}
	s.room.applyTyping(d, time.Now())
	s.emit(Event{Kind: EventTyping, Typing: &d})
}

func (s *RealtimeSession) handleReaction(sf protocol.ServerFrame) {
	var d protocol.ReactionData
	if err := json.Unmarshal(sf.Data, &d); err != nil {
		return
	}
	if s.room == nil {
		return
	}
	if s.room.applyReaction(d.MessageID, d.Emoji, d.UserID, d.UserName, d.Add) {
		s.emit(Event{Kind: EventReaction, Reaction: &d})
	}
}

func (s *RealtimeSession) handleUserCount(sf protocol.ServerFrame) {
	var d protocol.UserCountData
	if err := json.Unmarshal(sf.Data, &d); err != nil {
		return
	}
	if s.room == nil || d.RoomID != s.room.id {
		return
	}
	s.room.userCount = d.Count
	s.emit(Event{Kind: EventUserCount, UserCount: d.Count})
}

func (s *RealtimeSession) handlePresence(sf protocol.ServerFrame) {
	var d protocol.PresenceData
	if err := json.Unmarshal(sf.Data, &d); err != nil {
		return
	}
	if s.room == nil || d.RoomID != s.room.id {
		return
	}
	s.emit(Event{Kind: EventPresence, Presence: &d, Joined: sf.MessageType == protocol.ServerUserJoined})
}

// ── history ──

func (s *RealtimeSession) fetchHistory(roomID string) {
	if s.cfg.History == nil {
		return
	}
	go func() {
		msgs, err := s.cfg.History.RoomMessages(context.Background(), roomID)
		s.post(func() {
			// Stale-response guard: the user may have switched rooms
			// again while the fetch was in flight.
			if s.room == nil || s.room.id != roomID {
				return
			}
			if err != nil {
				log.Printf("session: history fetch for room %s failed: %v", roomID, err)
				s.emit(Event{Kind: EventHistory, Err: err})
				return
			}
			s.room.loadHistory(msgs)
			s.emit(Event{Kind: EventHistory})
		})
	}()
}
