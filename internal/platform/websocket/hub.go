// Package websocket fans pipeline events out to dashboard connections. Each
// connection belongs to one group (a clinic id); a broadcast reaches every
// connection currently registered in that group and nobody else.
package websocket

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const sendBuffer = 256

// StatusMessage is the routine progress update emitted by the pipelines.
type StatusMessage struct {
	Type      string    `json:"type"`
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	RefID     string    `json:"ref_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatus builds a status message for ref at the given stage.
func NewStatus(refID, stage string, progress int) StatusMessage {
	return StatusMessage{
		Type:      "status",
		Stage:     stage,
		Progress:  progress,
		RefID:     refID,
		Timestamp: time.Now().UTC(),
	}
}

// AlertMessage is the high-priority red-flag alert.
type AlertMessage struct {
	Type      string      `json:"type"`
	Severity  string      `json:"severity"`
	RefID     string      `json:"ref_id,omitempty"`
	Details   interface{} `json:"details"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewAlert builds an alert message.
func NewAlert(refID, severity string, details interface{}) AlertMessage {
	return AlertMessage{
		Type:      "alert",
		Severity:  severity,
		RefID:     refID,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Client is a single subscriber connection.
type Client struct {
	ID    string
	Group string
	Send  chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client with the standard send buffer.
func NewClient(id, group string) *Client {
	return &Client{ID: id, Group: group, Send: make(chan []byte, sendBuffer)}
}

// trySend queues data without blocking. It reports false when the buffer is
// full or the client is closed.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub tracks subscribers per group. All operations are safe for concurrent
// use.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	logger zerolog.Logger

	delivered uint64
	dropped   uint64
}

// Stats summarises the hub for health endpoints.
type Stats struct {
	Groups    int    `json:"groups"`
	Clients   int    `json:"clients"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers the client in its group.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.groups[c.Group]
	if !ok {
		set = make(map[*Client]struct{})
		h.groups[c.Group] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe removes the client and closes its send channel. Calling it
// twice is harmless.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) removeLocked(c *Client) bool {
	set, ok := h.groups[c.Group]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.groups, c.Group)
	}
	return true
}

// Broadcast delivers msg to every subscriber of group. A subscriber whose
// buffer is full is removed. Broadcast never blocks on a subscriber.
func (h *Hub) Broadcast(group string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("group", group).Msg("marshal broadcast")
		return
	}

	var failed []*Client
	h.mu.RLock()
	for c := range h.groups[group] {
		if c.trySend(data) {
			atomic.AddUint64(&h.delivered, 1)
		} else {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range failed {
		if h.removeLocked(c) {
			atomic.AddUint64(&h.dropped, 1)
			h.logger.Warn().Str("group", group).Str("client", c.ID).Msg("dropping slow subscriber")
		}
	}
	h.mu.Unlock()
	for _, c := range failed {
		c.close()
	}
}

// GroupCount returns the number of subscribers in group.
func (h *Hub) GroupCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{
		Groups:    len(h.groups),
		Delivered: atomic.LoadUint64(&h.delivered),
		Dropped:   atomic.LoadUint64(&h.dropped),
	}
	for _, set := range h.groups {
		st.Clients += len(set)
	}
	return st
}
