package services

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/voice"
)

// Subscriber receives pushed session messages.
type Subscriber interface {
	SendJSON(v any) error
}

// ServerMessage is a server to client push.
type ServerMessage struct {
	Type     string          `json:"type"` // snapshot|notice
	Snapshot *voice.Snapshot `json:"snapshot,omitempty"`
	Notice   *voice.Notice   `json:"notice,omitempty"`
}

// hub fans controller events out to the connected clients of one session.
type hub struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}

	ctrl *voice.Controller
	log  *logrus.Entry
}

var _ voice.Events = (*hub)(nil)

func newHub(log *logrus.Entry) *hub {
	return &hub{subs: map[Subscriber]struct{}{}, log: log}
}

func (h *hub) subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unsubscribe(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *hub) Notice(n voice.Notice) {
	h.broadcast(ServerMessage{Type: "notice", Notice: &n})
}

func (h *hub) Changed() {
	h.mu.Lock()
	ctrl := h.ctrl
	empty := len(h.subs) == 0
	h.mu.Unlock()
	if ctrl == nil || empty {
		return
	}
	snap := ctrl.Snapshot()
	h.broadcast(ServerMessage{Type: "snapshot", Snapshot: &snap})
}

func (h *hub) broadcast(msg ServerMessage) {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.SendJSON(msg); err != nil {
			h.log.WithError(err).WithField("type", msg.Type).Debug("push failed")
		}
	}
}
