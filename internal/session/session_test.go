package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

// fakeConn is an in-memory Transport driven by the test.
type fakeConn struct {
	reads  chan readResult
	writes chan protocol.ClientEvent

	closeOnce sync.Once
	closed    chan struct{}
}

type readResult struct {
	data []byte
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 16),
		writes: make(chan protocol.ClientEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case r := <-f.reads:
		return r.data, r.err
	case <-f.closed:
		return nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	var ev protocol.ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	select {
	case f.writes <- ev:
	default:
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// inject delivers a server frame to the session's reader.
func (f *fakeConn) inject(t *testing.T, msgType string, data any, ts int64) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, err := json.Marshal(protocol.ServerFrame{MessageType: msgType, Data: payload, Timestamp: ts})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	f.reads <- readResult{data: frame}
}

func (f *fakeConn) injectErr(err error) {
	f.reads <- readResult{err: err}
}

// fakeDialer hands out fakeConns, optionally failing the first n dials.
type fakeDialer struct {
	mu        sync.Mutex
	failFirst int
	dials     int
	conns     []*fakeConn
}

func (d *fakeDialer) dial(ctx context.Context, wsURL, token string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failFirst {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func newTestSession(d *fakeDialer, mutate func(*Config)) *RealtimeSession {
	cfg := Config{
		ServerURL:   "http://chat.test",
		UserID:      "u1",
		UserName:    "alice",
		Dialer:      d.dial,
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func waitWrite(t *testing.T, c *fakeConn, wantType string) protocol.ClientEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.writes:
			if ev.Type == wantType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s write", wantType)
		}
	}
}

func TestConnectFlushesQueueAndReplaysRooms(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	// Queued while offline, transmitted once the transport opens.
	sess.JoinRoom("r1")
	sess.Connect()

	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })
	ev := waitWrite(t, d.conn(0), protocol.TypeJoin)
	if ev.RoomID != "r1" {
		t.Fatalf("join room = %q", ev.RoomID)
	}

	// Connect is idempotent while connected.
	sess.Connect()
	time.Sleep(20 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("dials = %d", got)
	}
}

func TestDialFailureBacksOffThenFails(t *testing.T) {
	d := &fakeDialer{failFirst: 100}
	sess := newTestSession(d, func(cfg *Config) { cfg.MaxAttempts = 2 })
	defer sess.Close()

	sess.Connect()
	waitFor(t, "failed state", func() bool { return sess.State() == StateFailed })

	// Initial dial plus MaxAttempts retries, then it stops for good.
	if got := d.dialCount(); got != 3 {
		t.Fatalf("dials = %d, want 3", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 3 {
		t.Fatalf("dials kept going after Failed: %d", got)
	}
}

func TestAuthCloseIsFatal(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })

	d.conn(0).injectErr(&websocket.CloseError{Code: websocket.ClosePolicyViolation})
	waitFor(t, "failed state", func() bool { return sess.State() == StateFailed })

	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("auth failure must not be retried, dials = %d", got)
	}
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })

	d.conn(0).injectErr(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	waitFor(t, "disconnected", func() bool { return sess.State() == StateDisconnected })

	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("normal close must not be retried, dials = %d", got)
	}
}

func TestAbnormalCloseReconnectsAndResetsAttempts(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })

	d.conn(0).injectErr(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "reconnected", func() bool {
		return sess.State() == StateConnected && d.dialCount() == 2
	})

	// A successful open reset the attempt counter, so the next drop
	// reconnects again instead of counting toward the earlier attempts.
	d.conn(1).injectErr(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "reconnected again", func() bool {
		return sess.State() == StateConnected && d.dialCount() == 3
	})
}

func TestSendMessageOfflineFailsImmediately(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.SwitchRoom("r1")
	msg, err := sess.SendMessage("hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != protocol.StatusFailed {
		t.Fatalf("status = %q, want failed", msg.Status)
	}

	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Status != protocol.StatusFailed {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestOfflineSendNotDeliveredOnReconnect(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.SwitchRoom("r1")
	msg, err := sess.SendMessage("hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != protocol.StatusFailed {
		t.Fatalf("status = %q, want failed", msg.Status)
	}

	// Only the buffered join survives; the failed message's frame must
	// not outlive its failed entry.
	if got := sess.QueuedCount(); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })
	waitWrite(t, d.conn(0), protocol.TypeJoin)

	select {
	case ev := <-d.conn(0).writes:
		if ev.Type == protocol.TypeMessage {
			t.Fatalf("failed message transmitted on reconnect: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}

	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].ID != msg.ID || msgs[0].Status != protocol.StatusFailed {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSendMessageEmptyAndNoRoom(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	if _, err := sess.SendMessage("hi"); err != ErrNoRoom {
		t.Fatalf("no room: got %v", err)
	}
	sess.SwitchRoom("r1")
	if _, err := sess.SendMessage("   "); err != ErrEmptyContent {
		t.Fatalf("empty: got %v", err)
	}
}

func TestSendAndAck(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })
	sess.SwitchRoom("r1")
	waitWrite(t, d.conn(0), protocol.TypeJoin)

	msg, err := sess.SendMessage("hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != protocol.StatusSending {
		t.Fatalf("status = %q", msg.Status)
	}

	sent := waitWrite(t, d.conn(0), protocol.TypeMessage)
	if sent.TempID != msg.ID || sent.Content != "hello" {
		t.Fatalf("wire frame = %+v", sent)
	}

	now := time.Now().Unix()
	d.conn(0).inject(t, protocol.ServerAck, protocol.AckData{
		TempID: msg.ID, MessageID: "m1", Success: true,
	}, now)

	waitFor(t, "ack applied", func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].ID == "m1" && msgs[0].Status == protocol.StatusSent
	})
	if got := sess.PendingCount(); got != 0 {
		t.Fatalf("pending = %d", got)
	}
}

func TestAckEventIdentifiesStagedMessage(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })
	sess.SwitchRoom("r1")
	waitWrite(t, d.conn(0), protocol.TypeJoin)

	msg, err := sess.SendMessage("hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitWrite(t, d.conn(0), protocol.TypeMessage)
	d.conn(0).inject(t, protocol.ServerAck, protocol.AckData{
		TempID: msg.ID, MessageID: "m1", Success: true,
	}, time.Now().Unix())

	// The confirmation event must carry the staged temp id so a caller
	// can track its own send even when identical content is in flight.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatal("events closed before the ack")
			}
			if ev.Kind != EventMessage || ev.Message.Status != protocol.StatusSent {
				continue
			}
			if ev.TempID != msg.ID {
				t.Fatalf("TempID = %q, want %q", ev.TempID, msg.ID)
			}
			if ev.Message.ID != "m1" {
				t.Fatalf("message id = %q", ev.Message.ID)
			}
			return
		case <-deadline:
			t.Fatal("no confirmation event")
		}
	}
}

func TestHeartbeatPingAndLatency(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, func(cfg *Config) {
		cfg.HeartbeatInterval = 20 * time.Millisecond
	})
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })

	waitWrite(t, d.conn(0), protocol.TypePing)
	if got := sess.Latency(); got != 0 {
		t.Fatalf("latency before any pong = %v", got)
	}

	d.conn(0).inject(t, protocol.ServerPong, struct{}{}, time.Now().Unix())
	waitFor(t, "latency recorded", func() bool { return sess.Latency() > 0 })
}

func TestManualReconnectLeavesFailed(t *testing.T) {
	d := &fakeDialer{failFirst: 3}
	sess := newTestSession(d, func(cfg *Config) {
		cfg.MaxAttempts = 2
		cfg.ReconnectDelay = 5 * time.Millisecond
	})
	defer sess.Close()

	sess.Connect()
	waitFor(t, "failed state", func() bool { return sess.State() == StateFailed })

	// The automatic backoff gave up; a manual retry starts over with a
	// fresh attempt counter.
	sess.Reconnect()
	waitFor(t, "connected after manual retry", func() bool { return sess.State() == StateConnected })
	if got := d.dialCount(); got != 4 {
		t.Fatalf("dials = %d, want 4", got)
	}
}

func TestStaleHistoryDiscardedAfterRoomSwitch(t *testing.T) {
	h := &fakeHistory{calls: make(chan fetchReq)}
	d := &fakeDialer{}
	sess := newTestSession(d, func(cfg *Config) { cfg.History = h })
	defer sess.Close()

	sess.SwitchRoom("a")
	reqA := <-h.calls
	if reqA.roomID != "a" {
		t.Fatalf("first fetch for %q", reqA.roomID)
	}

	// Switch away while the first fetch is in flight.
	sess.SwitchRoom("b")
	reqB := <-h.calls
	if reqB.roomID != "b" {
		t.Fatalf("second fetch for %q", reqB.roomID)
	}

	reqB.reply <- fetchResp{msgs: []protocol.Message{
		{ID: "mb", RoomID: "b", UserID: "u2", UserName: "bob", Content: "b!", CreatedAt: time.Now()},
	}}
	waitFor(t, "history for b", func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].ID == "mb"
	})

	// The late response for the old room must be dropped.
	reqA.reply <- fetchResp{msgs: []protocol.Message{
		{ID: "ma", RoomID: "a", UserID: "u2", UserName: "bob", Content: "a!", CreatedAt: time.Now()},
	}}
	time.Sleep(50 * time.Millisecond)
	for _, m := range sess.Messages() {
		if m.ID == "ma" {
			t.Fatal("stale history applied to the new room")
		}
	}
}

func TestDisconnectClearsQueue(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.JoinRoom("r1")
	sess.JoinRoom("r2")
	waitFor(t, "events queued", func() bool { return sess.QueuedCount() == 2 })

	sess.Disconnect()
	waitFor(t, "queue cleared", func() bool { return sess.QueuedCount() == 0 })
	if sess.State() != StateDisconnected {
		t.Fatalf("state = %v", sess.State())
	}
}

func TestUnknownFrameIgnored(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })
	sess.SwitchRoom("r1")

	d.conn(0).inject(t, "mystery_frame", map[string]any{"x": 1}, time.Now().Unix())
	d.conn(0).inject(t, protocol.ServerMessage, protocol.MessageData{
		ID: "m1", RoomID: "r1", UserID: "u2", UserName: "bob",
		Content: "still alive", Timestamp: time.Now().Unix(),
	}, time.Now().Unix())

	waitFor(t, "message after unknown frame", func() bool {
		msgs := sess.Messages()
		return len(msgs) == 1 && msgs[0].ID == "m1"
	})
}

func TestRoomScopedFramesSurface(t *testing.T) {
	d := &fakeDialer{}
	sess := newTestSession(d, nil)
	defer sess.Close()

	sess.Connect()
	waitFor(t, "connected", func() bool { return sess.State() == StateConnected })
	sess.SwitchRoom("r1")

	now := time.Now().Unix()
	d.conn(0).inject(t, protocol.ServerUserCount, protocol.UserCountData{RoomID: "r1", Count: 3}, now)
	d.conn(0).inject(t, protocol.ServerTyping, protocol.TypingData{
		RoomID: "r1", UserID: "u2", UserName: "bob", IsTyping: true,
	}, now)
	// Frames for other rooms are dropped.
	d.conn(0).inject(t, protocol.ServerUserCount, protocol.UserCountData{RoomID: "other", Count: 99}, now)
	d.conn(0).inject(t, protocol.ServerMessage, protocol.MessageData{
		ID: "mx", RoomID: "other", UserID: "u2", UserName: "bob",
		Content: "elsewhere", Timestamp: now,
	}, now)

	waitFor(t, "typing projected", func() bool {
		return len(sess.TypingUsers(5*time.Second)) == 1
	})
	if got := sess.UserCount(); got != 3 {
		t.Fatalf("user count = %d", got)
	}
	if got := len(sess.Messages()); got != 0 {
		t.Fatalf("cross-room message applied: %d messages", got)
	}
}

// fakeHistory lets the test hold history fetches in flight.
type fakeHistory struct {
	calls chan fetchReq
}

type fetchReq struct {
	roomID string
	reply  chan fetchResp
}

type fetchResp struct {
	msgs []protocol.Message
	err  error
}

func (h *fakeHistory) RoomMessages(ctx context.Context, roomID string) ([]protocol.Message, error) {
	req := fetchReq{roomID: roomID, reply: make(chan fetchResp)}
	h.calls <- req
	resp := <-req.reply
	return resp.msgs, resp.err
}
