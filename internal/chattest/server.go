// Package chattest provides an in-process chat server speaking the
// real-time wire protocol. Session and API tests run against it instead
// of a live backend.
package chattest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is a minimal chat backend: rooms, history, acks, broadcasts.
// Construct with New, stop with Close.
type Server struct {
	// Token, when set, is required as a bearer token on the WS handshake.
	// Connections presenting anything else are closed with a policy
	// violation, the way the real backend rejects bad credentials.
	Token string

	// Identity maps a bearer token to the connecting user. Defaults to a
	// fixed test identity.
	Identity func(token string) (userID, userName string)

	httpSrv *httptest.Server

	mu     sync.Mutex
	nextID int
	rooms  map[string]*room
}

type room struct {
	history []protocol.Message
	members map[*client]bool
}

// client is one WebSocket connection. All writes go through the send
// channel so broadcasts never interleave.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	userName string
}

// New starts the server on an ephemeral port.
func New() *Server {
	s := &Server{
		rooms: make(map[string]*room),
		Identity: func(string) (string, string) {
			return "u1", "tester"
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/ws", s.serveWS)
	mux.HandleFunc("/api/chat/rooms/", s.serveHistory)
	s.httpSrv = httptest.NewServer(mux)
	return s
}

// URL returns the HTTP base URL of the server.
func (s *Server) URL() string { return s.httpSrv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.httpSrv.Close() }

// History returns a copy of a room's stored messages.
func (s *Server) History(roomID string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[roomID]
	if r == nil {
		return nil
	}
	out := make([]protocol.Message, len(r.history))
	copy(out, r.history)
	return out
}

// Seed appends a message to a room's history without broadcasting it.
func (s *Server) Seed(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getRoom(msg.RoomID)
	r.history = append(r.history, msg)
}

// serveHistory handles GET /api/chat/rooms/{room_id}/messages.
func (s *Server) serveHistory(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chat/rooms/")
	roomID, ok := strings.CutSuffix(rest, "/messages")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	msgs := s.History(roomID)
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("chattest: ws upgrade error: %v", err)
		return
	}

	// Auth failures close after the upgrade so the client observes a
	// policy-violation close frame, not a handshake error.
	if s.Token != "" && token != s.Token {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
		conn.Close()
		return
	}

	userID, userName := s.Identity(token)
	c := &client{
		conn:     conn,
		send:     make(chan []byte, 64),
		userID:   userID,
		userName: userName,
	}
	go c.writePump()
	s.readLoop(c)
}

func (c *client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *client) deliver(msgType string, data any, ts int64) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	frame, err := json.Marshal(protocol.ServerFrame{
		MessageType: msgType,
		Data:        payload,
		Timestamp:   ts,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		// Client too slow; drop.
	}
}

func (s *Server) readLoop(c *client) {
	defer func() {
		s.dropClient(c)
		close(c.send)
		c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev protocol.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		s.handleEvent(c, ev)
	}
}

func (s *Server) handleEvent(c *client, ev protocol.ClientEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Unix()

	switch ev.Type {
	case protocol.TypeJoin:
		r := s.getRoom(ev.RoomID)
		r.members[c] = true
		for m := range r.members {
			if m != c {
				m.deliver(protocol.ServerUserJoined, protocol.PresenceData{
					RoomID: ev.RoomID, UserID: c.userID, UserName: c.userName,
				}, now)
			}
			m.deliver(protocol.ServerUserCount, protocol.UserCountData{
				RoomID: ev.RoomID, Count: len(r.members),
			}, now)
		}

	case protocol.TypeLeave:
		r := s.getRoom(ev.RoomID)
		delete(r.members, c)
		for m := range r.members {
			m.deliver(protocol.ServerUserLeft, protocol.PresenceData{
				RoomID: ev.RoomID, UserID: c.userID, UserName: c.userName,
			}, now)
			m.deliver(protocol.ServerUserCount, protocol.UserCountData{
				RoomID: ev.RoomID, Count: len(r.members),
			}, now)
		}

	case protocol.TypeMessage:
		r := s.getRoom(ev.RoomID)
		s.nextID++
		id := fmt.Sprintf("m%d", s.nextID)
		r.history = append(r.history, protocol.Message{
			ID:        id,
			RoomID:    ev.RoomID,
			UserID:    c.userID,
			UserName:  c.userName,
			Content:   ev.Content,
			CreatedAt: time.Unix(now, 0),
		})
		c.deliver(protocol.ServerAck, protocol.AckData{
			TempID: ev.TempID, MessageID: id, Success: true,
		}, now)
		for m := range r.members {
			m.deliver(protocol.ServerMessage, protocol.MessageData{
				ID: id, RoomID: ev.RoomID, UserID: c.userID, UserName: c.userName,
				Content: ev.Content, Timestamp: now,
			}, now)
		}

	case protocol.TypeTyping:
		r := s.getRoom(ev.RoomID)
		for m := range r.members {
			if m != c {
				m.deliver(protocol.ServerTyping, protocol.TypingData{
					RoomID: ev.RoomID, UserID: c.userID, UserName: c.userName,
					IsTyping: ev.IsTyping,
				}, now)
			}
		}

	case protocol.TypeReaction:
		// Broadcast to every room the sender shares with others; the test
		// server does not track which room a message belongs to.
		seen := make(map[*client]bool)
		for _, r := range s.rooms {
			if !r.members[c] {
				continue
			}
			for m := range r.members {
				if seen[m] {
					continue
				}
				seen[m] = true
				m.deliver(protocol.ServerReaction, protocol.ReactionData{
					MessageID: ev.MessageID, UserID: c.userID, UserName: c.userName,
					Emoji: ev.Emoji, Add: ev.Add,
				}, now)
			}
		}

	case protocol.TypePing:
		c.deliver(protocol.ServerPong, struct{}{}, now)
	}
}

func (s *Server) getRoom(id string) *room {
	r := s.rooms[id]
	if r == nil {
		r = &room{members: make(map[*client]bool)}
		s.rooms[id] = r
	}
	return r
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		delete(r.members, c)
	}
}
