package room

import (
	"sync"

	"meshroom/internal/protocol"
	"meshroom/internal/util"
)

const defaultChatLog = 200

// EventRelay deduplicates chat/system messages by id and keeps a bounded
// log for the UI read model. Message ids are globally unique, so the
// seen-set is the whole dedup story.
type EventRelay struct {
	mu   sync.Mutex
	seen map[string]struct{}
	log  *util.Ring[protocol.ChatMessage]
	subs []chan protocol.ChatMessage
}

func NewEventRelay(capacity int) *EventRelay {
	if capacity <= 0 {
		capacity = defaultChatLog
	}
	return &EventRelay{
		seen: make(map[string]struct{}),
		log:  util.NewRing[protocol.ChatMessage](capacity),
	}
}

// Accept records a message unless its id was already seen. Returns false
// for duplicates.
func (r *EventRelay) Accept(msg protocol.ChatMessage) bool {
	r.mu.Lock()
	if _, dup := r.seen[msg.ID]; dup {
		r.mu.Unlock()
		return false
	}
	r.seen[msg.ID] = struct{}{}
	subs := append([]chan protocol.ChatMessage(nil), r.subs...)
	r.mu.Unlock()

	r.log.Append(msg)
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return true
}

func (r *EventRelay) Messages() []protocol.ChatMessage {
	return r.log.Items()
}

// Subscribe returns a channel fed with newly accepted messages.
func (r *EventRelay) Subscribe() <-chan protocol.ChatMessage {
	ch := make(chan protocol.ChatMessage, 32)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *EventRelay) Unsubscribe(ch <-chan protocol.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub == ch {
			close(sub)
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}
