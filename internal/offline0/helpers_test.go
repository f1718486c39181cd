package offline0_test

import (
	"context"
	"errors"
	"hash/crc32"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"offline0/internal/offline0"
)

const testOrigin = "https://site.test"

func testConfig(t *testing.T) offline0.Config {
	t.Helper()
	cfg := offline0.DefaultConfig()
	cfg.Server.Origin = testOrigin
	cfg.Storage.Backend = "memory"
	require.NoError(t, cfg.Compile())
	return cfg
}

func textResponse(status int, body string) offline0.Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return offline0.Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     h,
		Body:       []byte(body),
		Hash32:     crc32.ChecksumIEEE([]byte(body)),
	}
}

// fakeNetwork serves canned responses keyed by request URI.
type fakeNetwork struct {
	mu     sync.Mutex
	routes map[string]offline0.Response
	calls  map[string]int

	total atomic.Int32
	down  atomic.Bool

	// gate, when set, holds every fetch until it is closed.
	gate chan struct{}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{routes: map[string]offline0.Response{}, calls: map[string]int{}}
}

func (n *fakeNetwork) set(uri string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[uri] = textResponse(status, body)
}

func (n *fakeNetwork) callsFor(uri string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[uri]
}

func (n *fakeNetwork) Fetch(ctx context.Context, req offline0.Request) (offline0.Response, error) {
	uri := req.URL.RequestURI()
	n.total.Add(1)
	n.mu.Lock()
	n.calls[uri]++
	gate := n.gate
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return offline0.Response{}, &offline0.FetchError{URL: req.URL.String(), Err: ctx.Err()}
		}
	}
	if n.down.Load() {
		return offline0.Response{}, &offline0.FetchError{URL: req.URL.String(), Err: errors.New("connection refused")}
	}

	n.mu.Lock()
	resp, ok := n.routes[uri]
	n.mu.Unlock()
	if !ok {
		return textResponse(http.StatusNotFound, "not found"), nil
	}
	return resp.Clone(), nil
}

func (n *fakeNetwork) hold() {
	n.mu.Lock()
	n.gate = make(chan struct{})
	n.mu.Unlock()
}

func (n *fakeNetwork) release() {
	n.mu.Lock()
	if n.gate != nil {
		close(n.gate)
		n.gate = nil
	}
	n.mu.Unlock()
}

// fakeClients records what the worker asks of open pages.
type fakeClients struct {
	mu       sync.Mutex
	pages    map[string]string // id -> version
	reloaded []string
	opened   []string
}

func newFakeClients(pages map[string]string) *fakeClients {
	if pages == nil {
		pages = map[string]string{}
	}
	return &fakeClients{pages: pages}
}

func (c *fakeClients) Claim(_ context.Context, version string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed []string
	for id, v := range c.pages {
		if v != version {
			c.pages[id] = version
			changed = append(changed, id)
		}
	}
	return changed, nil
}

func (c *fakeClients) Reload(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloaded = append(c.reloaded, id)
	return nil
}

func (c *fakeClients) OpenWindow(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, url)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []offline0.Notification
	closed []string
}

func (n *fakeNotifier) Show(_ context.Context, note offline0.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, note)
	return nil
}

func (n *fakeNotifier) Close(_ context.Context, tag string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, tag)
	return nil
}

type workerEnv struct {
	cfg      offline0.Config
	store    *offline0.MemoryStore
	net      *fakeNetwork
	clients  *fakeClients
	notifier *fakeNotifier
	worker   *offline0.Worker
}

func newWorkerEnv(t *testing.T, mutate ...func(*offline0.Config)) *workerEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(&cfg)
	}
	env := &workerEnv{
		cfg:      cfg,
		store:    offline0.NewMemoryStore(0, zerolog.Nop()),
		net:      newFakeNetwork(),
		clients:  newFakeClients(nil),
		notifier: &fakeNotifier{},
	}
	w, err := offline0.NewWorker(cfg, env.store, env.net,
		offline0.WithClients(env.clients),
		offline0.WithNotifier(env.notifier),
	)
	require.NoError(t, err)
	env.worker = w
	return env
}

func (e *workerEnv) request(t *testing.T, uri string, mode offline0.Mode) offline0.Request {
	t.Helper()
	req, err := offline0.NewRequest(testOrigin+uri, mode)
	require.NoError(t, err)
	return req
}

// fetch dispatches a fetch event and waits for its background work.
func (e *workerEnv) fetch(t *testing.T, req offline0.Request) (offline0.Outcome, bool) {
	t.Helper()
	ev := e.dispatch(t, req)
	require.NoError(t, ev.Wait())
	return ev.Outcome()
}

// dispatch returns as soon as the worker has responded.
func (e *workerEnv) dispatch(t *testing.T, req offline0.Request) *offline0.Event {
	t.Helper()
	ev := offline0.NewFetchEvent(context.Background(), req)
	require.NoError(t, e.worker.Dispatch(context.Background(), ev))
	return ev
}

func (e *workerEnv) seed(t *testing.T, partition, uri string, resp offline0.Response) {
	t.Helper()
	ctx := context.Background()
	p, err := e.store.Open(ctx, partition)
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, e.request(t, uri, offline0.ModeOther).Key(), resp))
}

func (e *workerEnv) cached(t *testing.T, partition, uri string) (offline0.Response, bool) {
	t.Helper()
	ctx := context.Background()
	p, err := e.store.Open(ctx, partition)
	require.NoError(t, err)
	resp, ok, err := p.Match(ctx, e.request(t, uri, offline0.ModeOther).Key())
	require.NoError(t, err)
	return resp, ok
}
