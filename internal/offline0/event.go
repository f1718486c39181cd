package offline0

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventSync              EventKind = "sync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

const defaultExtendTimeout = 30 * time.Second

// Event is one occurrence delivered to a Worker. Work registered with
// WaitUntil outlives the handler call; the host must Wait for it before it
// considers the event finished.
type Event struct {
	ID   string
	Kind EventKind

	Request Request // fetch
	Tag     string  // sync, notificationclick
	Data    []byte  // push
	Action  string  // notificationclick

	base    context.Context
	timeout time.Duration
	g       errgroup.Group

	mu      sync.Mutex
	outcome *Outcome
}

func NewEvent(ctx context.Context, kind EventKind) *Event {
	return &Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		base:    context.WithoutCancel(ctx),
		timeout: defaultExtendTimeout,
	}
}

func NewFetchEvent(ctx context.Context, req Request) *Event {
	ev := NewEvent(ctx, EventFetch)
	ev.Request = req
	return ev
}

func NewSyncEvent(ctx context.Context, tag string) *Event {
	ev := NewEvent(ctx, EventSync)
	ev.Tag = tag
	return ev
}

func NewPushEvent(ctx context.Context, data []byte) *Event {
	ev := NewEvent(ctx, EventPush)
	ev.Data = data
	return ev
}

func NewNotificationClickEvent(ctx context.Context, tag, action string) *Event {
	ev := NewEvent(ctx, EventNotificationClick)
	ev.Tag = tag
	ev.Action = action
	return ev
}

// WaitUntil runs fn in the background. fn's context is detached from the
// caller's cancellation but bounded by the event's extension timeout.
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	e.g.Go(func() error {
		ctx, cancel := context.WithTimeout(e.base, e.timeout)
		defer cancel()
		return fn(ctx)
	})
}

// Wait blocks until every WaitUntil task has returned and reports the first error.
func (e *Event) Wait() error { return e.g.Wait() }

// RespondWith sets the response for a fetch event. The first call wins.
func (e *Event) RespondWith(out Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outcome != nil {
		return
	}
	e.outcome = &out
}

// Outcome returns the response chosen by the worker. ok is false when the
// worker declined the request and default handling applies.
func (e *Event) Outcome() (Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outcome == nil {
		return Outcome{}, false
	}
	return *e.outcome, true
}
