package offline0

import "context"

// Clients is the set of open pages a worker can control.
type Clients interface {
	// Claim takes control of every open page for version and returns the ids
	// of pages that were controlled by a different version before.
	Claim(ctx context.Context, version string) ([]string, error)
	// Reload tells a page to reload itself.
	Reload(ctx context.Context, id string) error
	// OpenWindow asks a page to open url.
	OpenWindow(ctx context.Context, url string) error
}

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type Notification struct {
	Tag     string               `json:"tag"`
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	URL     string               `json:"url,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, tag string) error
}

type nopClients struct{}

func (nopClients) Claim(context.Context, string) ([]string, error) { return nil, nil }
func (nopClients) Reload(context.Context, string) error            { return nil }
func (nopClients) OpenWindow(context.Context, string) error        { return nil }

type nopNotifier struct{}

func (nopNotifier) Show(context.Context, Notification) error { return nil }
func (nopNotifier) Close(context.Context, string) error      { return nil }
