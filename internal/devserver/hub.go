package devserver

import (
	"sync"

	"github.com/mbeoliero/kit/log"

	"github.com/lotmarket/chatsync/internal/channel"
)

// hub tracks room membership: which connected clients receive a given
// conversation's events
type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*wsClient]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*wsClient]struct{})}
}

func (h *hub) join(conversationId string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conversationId] == nil {
		h.rooms[conversationId] = make(map[*wsClient]struct{})
	}
	h.rooms[conversationId][c] = struct{}{}
}

func (h *hub) leave(conversationId string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.rooms[conversationId]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.rooms, conversationId)
		}
	}
}

// leaveAll drops a client from every room it joined
func (h *hub) leaveAll(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, m := range h.rooms {
		delete(m, c)
		if len(m) == 0 {
			delete(h.rooms, id)
		}
	}
}

// broadcast sends an event to every member of a conversation's room.
// exclude may be nil; when set, that client is skipped.
func (h *hub) broadcast(conversationId, event string, payload interface{}, exclude *wsClient) {
	frame, err := channel.Encode(event, payload)
	if err != nil {
		log.Warn("encode %s: %v", event, err)
		return
	}

	h.mu.RLock()
	members := make([]*wsClient, 0, len(h.rooms[conversationId]))
	for c := range h.rooms[conversationId] {
		if c != exclude {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.write(frame)
	}
}
