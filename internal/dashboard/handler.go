package dashboard

import (
	"encoding/json"
	"time"

	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/sirupsen/logrus"
)

// StatsData summarizes the cache.
type StatsData struct {
	Counts   map[cache.Name]int          `json:"counts"`
	Unread   int                         `json:"unread"`
	Status   map[model.Kind]cache.Status `json:"status"`
	Selected map[model.Kind]string       `json:"selected,omitempty"`
}

// Handler bridges cache events to the WebSocket server.
type Handler struct {
	server *Server
	cache  *cache.Store
	log    logrus.FieldLogger
	stop   func()
}

// NewHandler wires c's change feed into server. Call Close to detach.
func NewHandler(server *Server, c *cache.Store, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{server: server, cache: c, log: log.WithField("component", "dashboard")}
	server.SetWelcome(func() (Message, bool) { return h.statsMessage() })
	h.stop = c.Observe(h.onEvent)
	return h
}

// Close stops forwarding cache events.
func (h *Handler) Close() {
	if h.stop != nil {
		h.stop()
	}
}

// Stats computes the current summary.
func (h *Handler) Stats() StatsData {
	st := StatsData{
		Counts:   h.cache.Counts(),
		Unread:   h.cache.Unread(),
		Status:   make(map[model.Kind]cache.Status, len(model.Kinds)),
		Selected: make(map[model.Kind]string),
	}
	for _, k := range model.Kinds {
		st.Status[k] = h.cache.Status(k)
		if e := h.cache.Selected(k); e != nil {
			st.Selected[k] = e.EntityID()
		}
	}
	return st
}

func (h *Handler) onEvent(ev cache.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal cache event")
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeCacheEvent, Timestamp: time.Now(), Data: data})

	if msg, ok := h.statsMessage(); ok {
		h.server.Broadcast(msg)
	}
}

func (h *Handler) statsMessage() (Message, bool) {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		h.log.WithError(err).Error("failed to marshal stats")
		return Message{}, false
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}, true
}
