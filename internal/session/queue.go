package session

import (
	"sort"
	"time"

	"github.com/mwhitfield/rtchat/internal/protocol"
)

// outboundEnvelope buffers one client event while the transport is down.
type outboundEnvelope struct {
	event      protocol.ClientEvent
	priority   bool
	enqueuedAt time.Time
}

// outboundQueue holds events until the transport reopens. It is plain
// loop-owned state, not a goroutine: the session flushes it synchronously
// when the open handshake completes.
type outboundQueue struct {
	items []outboundEnvelope
}

func (q *outboundQueue) push(event protocol.ClientEvent, priority bool, now time.Time) {
	q.items = append(q.items, outboundEnvelope{event: event, priority: priority, enqueuedAt: now})
}

func (q *outboundQueue) len() int { return len(q.items) }

// removeMessage drops any buffered message frame staged under tempID. A
// message marked failed must never be delivered later by a queue flush.
func (q *outboundQueue) removeMessage(tempID string) {
	kept := q.items[:0]
	for _, env := range q.items {
		if env.event.Type == protocol.TypeMessage && env.event.TempID == tempID {
			continue
		}
		kept = append(kept, env)
	}
	q.items = kept
}

func (q *outboundQueue) clear() { q.items = nil }

// drain removes and returns all buffered envelopes in flush order:
// priority first, then oldest first.
func (q *outboundQueue) drain() []outboundEnvelope {
	items := q.items
	q.items = nil
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority
		}
		return items[i].enqueuedAt.Before(items[j].enqueuedAt)
	})
	return items
}
