package offline0

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const pageQueueSize = 16

// PageMessage is one server-sent event delivered to an open page.
type PageMessage struct {
	Type         string        `json:"type"`
	Version      string        `json:"version,omitempty"`
	URL          string        `json:"url,omitempty"`
	Tag          string        `json:"tag,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

const (
	MsgReload            = "reload"
	MsgNavigate          = "navigate"
	MsgNotification      = "notification"
	MsgNotificationClose = "notificationclose"
)

type page struct {
	id      string
	version string
	ch      chan PageMessage
}

// PageHub tracks pages connected over an event stream. It is the Clients and
// Notifier of the HTTP front.
type PageHub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	current string
	pages   map[string]*page
	closed  bool
}

func NewPageHub(logger zerolog.Logger) *PageHub {
	return &PageHub{
		logger: logger.With().Str("component", "PageHub").Logger(),
		pages:  map[string]*page{},
	}
}

// Subscribe registers a page that runs code from version. A page from another
// version than the active one is told to reload right away.
func (h *PageHub) Subscribe(version string) (string, <-chan PageMessage, func()) {
	p := &page{id: uuid.NewString(), version: version, ch: make(chan PageMessage, pageQueueSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(p.ch)
		return p.id, p.ch, func() {}
	}
	if p.version == "" {
		p.version = h.current
	}
	stale := h.current != "" && p.version != h.current
	if stale {
		p.version = h.current
		p.ch <- PageMessage{Type: MsgReload, Version: h.current}
	}
	h.pages[p.id] = p
	h.mu.Unlock()

	return p.id, p.ch, func() { h.remove(p.id) }
}

func (h *PageHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pages[id]; ok {
		delete(h.pages, id)
		close(p.ch)
	}
}

// Pages returns the ids of connected pages.
func (h *PageHub) Pages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.pages))
	for id := range h.pages {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *PageHub) Claim(_ context.Context, version string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = version
	var changed []string
	for id, p := range h.pages {
		if p.version != version {
			p.version = version
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func (h *PageHub) Reload(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pages[id]
	if !ok {
		return fmt.Errorf("page %s is not connected", id)
	}
	h.sendLocked(p, PageMessage{Type: MsgReload, Version: h.current})
	return nil
}

func (h *PageHub) OpenWindow(_ context.Context, url string) error {
	h.broadcast(PageMessage{Type: MsgNavigate, URL: url})
	return nil
}

func (h *PageHub) Show(_ context.Context, n Notification) error {
	h.broadcast(PageMessage{Type: MsgNotification, Tag: n.Tag, Notification: &n})
	return nil
}

func (h *PageHub) Close(_ context.Context, tag string) error {
	h.broadcast(PageMessage{Type: MsgNotificationClose, Tag: tag})
	return nil
}

func (h *PageHub) broadcast(msg PageMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.pages {
		h.sendLocked(p, msg)
	}
}

// sendLocked drops the message for a page whose queue is full.
func (h *PageHub) sendLocked(p *page, msg PageMessage) {
	select {
	case p.ch <- msg:
	default:
		h.logger.Warn().Str("page", p.id).Str("type", msg.Type).Msg("page queue full, message dropped")
	}
}

// Shutdown ends every stream. Later subscriptions get a closed channel.
func (h *PageHub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, p := range h.pages {
		delete(h.pages, id)
		close(p.ch)
	}
}

// ServeHTTP streams messages to one page as server-sent events.
func (h *PageHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	id, ch, cancel := h.Subscribe(r.URL.Query().Get("version"))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: hello\ndata: {\"id\":%q}\n\n", id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, b)
			flusher.Flush()
		}
	}
}
