package session

import (
	"strings"
	"testing"
	"time"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

const (
	selfID   = "u1"
	selfName = "alice"
)

func stageOK(t *testing.T, r *roomState, content string, now time.Time) protocol.Message {
	t.Helper()
	msg, err := r.stage(content, selfID, selfName, now, time.Second)
	if err != nil {
		t.Fatalf("stage(%q): %v", content, err)
	}
	return msg
}

func TestStageOptimisticMessage(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now()

	msg := stageOK(t, r, "  hello  ", now)
	if msg.Content != "hello" {
		t.Errorf("content not trimmed: %q", msg.Content)
	}
	if !strings.HasPrefix(msg.ID, "temp-") {
		t.Errorf("temp id = %q", msg.ID)
	}
	if msg.Status != protocol.StatusSending {
		t.Errorf("status = %q", msg.Status)
	}
	if len(r.messages) != 1 || len(r.pending) != 1 {
		t.Fatalf("messages=%d pending=%d", len(r.messages), len(r.pending))
	}
}

func TestStageRejectsEmptyAndDuplicate(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now()

	if _, err := r.stage("   ", selfID, selfName, now, time.Second); err != ErrEmptyContent {
		t.Fatalf("empty content: got %v", err)
	}

	stageOK(t, r, "hello", now)
	if _, err := r.stage("hello", selfID, selfName, now.Add(100*time.Millisecond), time.Second); err != ErrDuplicateSend {
		t.Fatalf("duplicate within window: got %v", err)
	}
	// Outside the window the same content is allowed again.
	if _, err := r.stage("hello", selfID, selfName, now.Add(2*time.Second), time.Second); err != nil {
		t.Fatalf("duplicate outside window: %v", err)
	}
	// Different content inside the window is allowed.
	if _, err := r.stage("other", selfID, selfName, now.Add(2100*time.Millisecond), time.Second); err != nil {
		t.Fatalf("different content: %v", err)
	}
}

func TestAckSuccessRewritesAndResorts(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now()

	// An older broadcast message already displayed.
	r.applyServerMessage(protocol.MessageData{
		ID: "m1", RoomID: "r1", UserID: "u2", UserName: "bob",
		Content: "earlier", Timestamp: now.Add(-time.Minute).Unix(),
	}, selfID)

	msg := stageOK(t, r, "hello", now)
	serverTS := now.Add(2 * time.Second).Unix()
	if !r.ack(protocol.AckData{TempID: msg.ID, MessageID: "m2", Success: true}, serverTS) {
		t.Fatal("ack returned false")
	}

	got := r.byID("m2")
	if got == nil {
		t.Fatal("message not found under server id")
	}
	if got.Status != protocol.StatusSent {
		t.Errorf("status = %q", got.Status)
	}
	if !got.CreatedAt.Equal(time.Unix(serverTS, 0)) {
		t.Errorf("created_at not replaced by server timestamp")
	}
	if r.byID(msg.ID) != nil {
		t.Error("temp id still resolvable")
	}
	if len(r.pending) != 0 {
		t.Error("pending entry not cleared")
	}
	if r.messages[len(r.messages)-1].ID != "m2" {
		t.Error("acked message not sorted to its server position")
	}

	// A second ack for the same temp id is a no-op.
	if r.ack(protocol.AckData{TempID: msg.ID, MessageID: "m2", Success: true}, serverTS) {
		t.Error("duplicate ack was not ignored")
	}
}

func TestAckFailureMarksFailed(t *testing.T) {
	r := newRoomState("r1")
	msg := stageOK(t, r, "hello", time.Now())

	if !r.ack(protocol.AckData{TempID: msg.ID, Success: false}, 0) {
		t.Fatal("ack returned false")
	}
	got := r.byID(msg.ID)
	if got == nil || got.Status != protocol.StatusFailed {
		t.Fatalf("message = %+v", got)
	}
	if len(r.pending) != 0 {
		t.Error("pending entry not cleared")
	}
}

func TestOwnEchoConfirmsInsteadOfDuplicating(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now()
	msg := stageOK(t, r, "hello", now)

	got, fresh := r.applyServerMessage(protocol.MessageData{
		ID: "m5", RoomID: "r1", UserID: selfID, UserName: selfName,
		Content: "hello", Timestamp: now.Unix(),
	}, selfID)

	if fresh {
		t.Error("own echo reported as fresh")
	}
	if got == nil || got.ID != "m5" || got.Status != protocol.StatusSent {
		t.Fatalf("echo result = %+v", got)
	}
	if len(r.messages) != 1 {
		t.Fatalf("duplicate display: %d messages", len(r.messages))
	}
	if r.byID(msg.ID) != nil {
		t.Error("temp entry still present")
	}

	// The ack arriving after the echo must be a no-op.
	if r.ack(protocol.AckData{TempID: msg.ID, MessageID: "m5", Success: true}, now.Unix()) {
		t.Error("late ack was not ignored")
	}
	if len(r.messages) != 1 {
		t.Fatalf("late ack duplicated: %d messages", len(r.messages))
	}
}

func TestKnownServerMessageIgnored(t *testing.T) {
	r := newRoomState("r1")
	d := protocol.MessageData{
		ID: "m1", RoomID: "r1", UserID: "u2", UserName: "bob",
		Content: "hi", Timestamp: time.Now().Unix(),
	}
	if msg, fresh := r.applyServerMessage(d, selfID); msg == nil || !fresh {
		t.Fatal("first delivery should append fresh")
	}
	if msg, _ := r.applyServerMessage(d, selfID); msg != nil {
		t.Fatal("second delivery should be dropped")
	}
	if len(r.messages) != 1 {
		t.Fatalf("%d messages", len(r.messages))
	}
}

func TestServerOrderingWinsOverArrival(t *testing.T) {
	r := newRoomState("r1")
	base := time.Now().Truncate(time.Second)

	// Arrival order t1, t3, t2; display order must follow timestamps.
	for _, m := range []struct {
		id string
		ts int64
	}{
		{"a", base.Unix()},
		{"c", base.Add(2 * time.Second).Unix()},
		{"b", base.Add(1 * time.Second).Unix()},
	} {
		r.applyServerMessage(protocol.MessageData{
			ID: m.id, RoomID: "r1", UserID: "u2", UserName: "bob",
			Content: m.id, Timestamp: m.ts,
		}, selfID)
	}

	var order []string
	for _, m := range r.messages {
		order = append(order, m.ID)
	}
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("display order = %v", order)
	}
}

func TestReactionProjection(t *testing.T) {
	r := newRoomState("r1")
	r.applyServerMessage(protocol.MessageData{
		ID: "m1", RoomID: "r1", UserID: "u2", UserName: "bob",
		Content: "hi", Timestamp: time.Now().Unix(),
	}, selfID)

	check := func(wantUsers int) {
		t.Helper()
		msg := r.byID("m1")
		if wantUsers == 0 {
			if len(msg.Reactions) != 0 {
				t.Fatalf("reactions = %+v", msg.Reactions)
			}
			return
		}
		if len(msg.Reactions) != 1 {
			t.Fatalf("reactions = %+v", msg.Reactions)
		}
		rec := msg.Reactions[0]
		if rec.Count != wantUsers || len(rec.Users) != wantUsers {
			t.Fatalf("count=%d users=%d, want %d", rec.Count, len(rec.Users), wantUsers)
		}
		if rec.ID != "m1:👍" {
			t.Fatalf("record id = %q", rec.ID)
		}
	}

	if !r.applyReaction("m1", "👍", "u2", "bob", true) {
		t.Fatal("first add rejected")
	}
	check(1)

	// Same user adding again is a no-op.
	if r.applyReaction("m1", "👍", "u2", "bob", true) {
		t.Fatal("duplicate add accepted")
	}
	check(1)

	if !r.applyReaction("m1", "👍", "u3", "carol", true) {
		t.Fatal("second user add rejected")
	}
	check(2)

	if !r.applyReaction("m1", "👍", "u2", "bob", false) {
		t.Fatal("remove rejected")
	}
	check(1)

	// Removing a reaction the user never added is a no-op.
	if r.applyReaction("m1", "👍", "u9", "zed", false) {
		t.Fatal("phantom remove accepted")
	}
	check(1)

	// Last removal drops the record entirely.
	if !r.applyReaction("m1", "👍", "u3", "carol", false) {
		t.Fatal("final remove rejected")
	}
	check(0)

	// Reaction on an unknown message is rejected.
	if r.applyReaction("nope", "👍", "u2", "bob", true) {
		t.Fatal("reaction on unknown message accepted")
	}
}

func TestTypingProjection(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now()

	r.applyTyping(protocol.TypingData{UserID: "u2", UserName: "bob", IsTyping: true}, now)
	r.applyTyping(protocol.TypingData{UserID: "u3", UserName: "carol", IsTyping: true}, now.Add(-10*time.Second))

	users := r.typingUsers(now, 5*time.Second)
	if len(users) != 1 || users[0].UserID != "u2" {
		t.Fatalf("typing = %+v", users)
	}

	// Explicit stop removes the entry.
	r.applyTyping(protocol.TypingData{UserID: "u2", UserName: "bob", IsTyping: false}, now)
	if users := r.typingUsers(now, 5*time.Second); len(users) != 0 {
		t.Fatalf("typing after stop = %+v", users)
	}
}

func TestSweepRetryAndExhaustion(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now()
	msg := stageOK(t, r, "hello", now)

	// Too young: nothing happens.
	resend, failed := r.sweepRetry(now.Add(time.Second), 5*time.Second, 2)
	if len(resend) != 0 || len(failed) != 0 {
		t.Fatalf("young sweep: resend=%d failed=%d", len(resend), len(failed))
	}

	// Old enough: retried, counter incremented.
	resend, failed = r.sweepRetry(now.Add(6*time.Second), 5*time.Second, 2)
	if len(resend) != 1 || len(failed) != 0 {
		t.Fatalf("first sweep: resend=%d failed=%d", len(resend), len(failed))
	}
	if resend[0].tempID != msg.ID || resend[0].retryCount != 1 {
		t.Fatalf("resend = %+v", resend[0])
	}

	resend, _ = r.sweepRetry(now.Add(7*time.Second), 5*time.Second, 2)
	if len(resend) != 1 || resend[0].retryCount != 2 {
		t.Fatalf("second sweep: %+v", resend)
	}

	// Retries exhausted: failed exactly once, then never reported again.
	resend, failed = r.sweepRetry(now.Add(8*time.Second), 5*time.Second, 2)
	if len(resend) != 0 || len(failed) != 1 || failed[0] != msg.ID {
		t.Fatalf("exhaustion sweep: resend=%d failed=%v", len(resend), failed)
	}
	if got := r.byID(msg.ID); got == nil || got.Status != protocol.StatusFailed {
		t.Fatalf("message = %+v", got)
	}
	if _, failed = r.sweepRetry(now.Add(9*time.Second), 5*time.Second, 2); len(failed) != 0 {
		t.Fatalf("failed reported twice: %v", failed)
	}
}

func TestSweepStaleHardBound(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now()
	msg := stageOK(t, r, "hello", now)

	if dropped := r.sweepStale(now.Add(10*time.Second), 30*time.Second); len(dropped) != 0 {
		t.Fatalf("dropped too early: %v", dropped)
	}
	dropped := r.sweepStale(now.Add(31*time.Second), 30*time.Second)
	if len(dropped) != 1 || dropped[0] != msg.ID {
		t.Fatalf("dropped = %v", dropped)
	}
	if got := r.byID(msg.ID); got.Status != protocol.StatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestLoadHistorySkipsLiveMessages(t *testing.T) {
	r := newRoomState("r1")
	now := time.Now().Truncate(time.Second)

	// m2 arrived live before the history fetch completed.
	r.applyServerMessage(protocol.MessageData{
		ID: "m2", RoomID: "r1", UserID: "u2", UserName: "bob",
		Content: "live", Timestamp: now.Unix(),
	}, selfID)

	r.loadHistory([]protocol.Message{
		{ID: "m1", RoomID: "r1", UserID: "u2", UserName: "bob", Content: "old", CreatedAt: now.Add(-time.Minute)},
		{ID: "m2", RoomID: "r1", UserID: "u2", UserName: "bob", Content: "live", CreatedAt: now},
	})

	if len(r.messages) != 2 {
		t.Fatalf("%d messages after merge", len(r.messages))
	}
	if r.messages[0].ID != "m1" || r.messages[1].ID != "m2" {
		t.Fatalf("order: %s, %s", r.messages[0].ID, r.messages[1].ID)
	}
	for _, m := range r.messages {
		if m.Status != protocol.StatusSent {
			t.Errorf("message %s status = %q", m.ID, m.Status)
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r := newRoomState("r1")
	r.applyServerMessage(protocol.MessageData{
		ID: "m1", RoomID: "r1", UserID: "u2", UserName: "bob",
		Content: "hi", Timestamp: time.Now().Unix(),
	}, selfID)
	r.applyReaction("m1", "👍", "u2", "bob", true)

	snap := r.snapshot()
	snap[0].Reactions[0].Users[0].UserName = "mutated"
	snap[0].Content = "mutated"

	orig := r.byID("m1")
	if orig.Content != "hi" || orig.Reactions[0].Users[0].UserName != "bob" {
		t.Fatal("snapshot shares memory with room state")
	}
}
