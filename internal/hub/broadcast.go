package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/soar/wheelbridge/internal/bridge"
)

const fullSyncInterval = 5 * time.Second

// Broadcaster listens for session status snapshots and broadcasts them to
// the hub. State transitions go out as "event" messages, everything else as
// plain "status".
type Broadcaster struct {
	hub     *Hub
	changes <-chan bridge.Status
	seq     int64

	mu   sync.Mutex
	last bridge.Status
	has  bool
}

func NewBroadcaster(h *Hub, changes <-chan bridge.Status) *Broadcaster {
	return &Broadcaster{
		hub:     h,
		changes: changes,
	}
}

// Run starts the broadcaster loop. Should be run in a goroutine.
func (b *Broadcaster) Run() {
	ticker := time.NewTicker(fullSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case status, ok := <-b.changes:
			if !ok {
				return
			}

			b.mu.Lock()
			transition := !b.has || status.State != b.last.State
			b.last = status
			b.has = true
			b.mu.Unlock()

			b.seq++
			if transition {
				b.send(NewEventMessage(b.seq, status.State, &status))
			} else {
				b.send(NewStatusMessage(b.seq, &status))
			}

		case <-ticker.C:
			// Periodic full sync so late joiners and lossy clients
			// converge even when the session is quiet.
			b.mu.Lock()
			status, has := b.last, b.has
			b.mu.Unlock()
			if has {
				b.seq++
				b.send(NewStatusMessage(b.seq, &status))
			}
		}
	}
}

// SendInitialState sends the current status to a newly connected client.
func (b *Broadcaster) SendInitialState(c *Client) {
	b.mu.Lock()
	status, has := b.last, b.has
	b.mu.Unlock()
	if !has {
		return
	}

	b.seq++
	msg := NewStatusMessage(b.seq, &status)
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling initial state: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (b *Broadcaster) send(msg *WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}
	b.hub.Broadcast(data)
}
