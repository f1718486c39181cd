package offline0

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFunc handles one event kind. Asynchronous work must be registered
// with ev.WaitUntil.
type HandlerFunc func(ctx context.Context, ev *Event) error

// Worker routes fetch events through the caching strategies and runs the
// install/activate lifecycle. All its configuration is fixed at construction.
type Worker struct {
	cfg        Config
	store      Store
	net        Network
	classifier *Classifier
	clients    Clients
	notifier   Notifier
	logger     zerolog.Logger

	scope      *url.URL
	offlineKey string
	handlers   map[EventKind]HandlerFunc

	bgSem         chan struct{}
	revalidateLog *rateLimitedLogger

	mu    sync.Mutex
	state State
}

type Option func(*Worker)

func WithClients(c Clients) Option { return func(w *Worker) { w.clients = c } }

func WithNotifier(n Notifier) Option { return func(w *Worker) { w.notifier = n } }

func WithLogger(l zerolog.Logger) Option { return func(w *Worker) { w.logger = l } }

// NewWorker compiles cfg and builds a worker over store and net.
func NewWorker(cfg Config, store Store, net Network, opts ...Option) (*Worker, error) {
	cfg.Rules = append([]Rule(nil), cfg.Rules...)
	if err := cfg.Compile(); err != nil {
		return nil, err
	}
	scope, err := url.Parse(cfg.Server.Origin + "/")
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:        cfg,
		store:      store,
		net:        net,
		classifier: NewClassifier(cfg),
		clients:    nopClients{},
		notifier:   nopNotifier{},
		logger:     zerolog.Nop(),
		scope:      scope,
		bgSem:      make(chan struct{}, cfg.Revalidate.MaxInFlight),
		state:      StateParsed,
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With().Str("component", "Worker").Str("version", cfg.Cache.Version).Logger()
	w.revalidateLog = newRateLimitedLogger(w.logger, defaultOverflowLogEvery)
	w.revalidateLog.level = zerolog.DebugLevel

	// The app shell and offline page must outlive any memory budget.
	if p, ok := store.(Pinner); ok {
		p.Pin(cfg.StaticName())
	}

	if cfg.Prewarm.OfflinePage != "" {
		w.offlineKey = w.requestFor(cfg.Prewarm.OfflinePage).Key()
	}

	w.handlers = map[EventKind]HandlerFunc{
		EventInstall:           w.onInstall,
		EventActivate:          w.onActivate,
		EventFetch:             w.onFetch,
		EventSync:              w.onSync,
		EventPush:              w.onPush,
		EventNotificationClick: w.onNotificationClick,
	}
	return w, nil
}

// Dispatch hands ev to the handler registered for its kind.
func (w *Worker) Dispatch(ctx context.Context, ev *Event) error {
	h, ok := w.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("%q: %w", ev.Kind, ErrUnknownEvent)
	}
	return h(ctx, ev)
}

// Classifier exposes the worker's request classifier.
func (w *Worker) Classifier() *Classifier { return w.classifier }

// Scope is the origin root the worker controls.
func (w *Worker) Scope() *url.URL {
	u := *w.scope
	return &u
}

// requestFor builds a GET for a path inside the scope.
func (w *Worker) requestFor(path string) Request {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	return Request{Method: http.MethodGet, URL: w.scope.ResolveReference(ref), Mode: ModeNavigate, Header: make(http.Header)}
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, w.scope.Scheme) && strings.EqualFold(u.Host, w.scope.Host)
}

// intercepts reports whether the router takes the request at all. Every
// other request keeps its default handling.
func (w *Worker) intercepts(req Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	return w.sameOrigin(req.URL)
}

func (w *Worker) pickRule(path string) *Rule {
	for i := range w.cfg.Rules {
		r := &w.cfg.Rules[i]
		if r.Matches(path) {
			return r
		}
	}
	return nil
}

func (w *Worker) onFetch(ctx context.Context, ev *Event) error {
	req := ev.Request
	if !w.intercepts(req) {
		return nil
	}

	rule := w.pickRule(req.URL.Path)
	if rule != nil && (rule.Bypass || hasAnyCookie(req.Header, rule.BypassWhenCookies)) {
		return nil
	}

	cls := w.classifier.Classify(req.URL)
	strat := cls.Strategy()
	if rule != nil && rule.strategy != StrategyNone {
		strat = rule.strategy
	}

	out, err := w.strategyFor(strat)(ctx, ev)
	if err != nil {
		w.logger.Debug().Err(err).
			Str("event_id", ev.ID).
			Str("url", req.URL.String()).
			Str("class", cls.String()).
			Msg("strategy failed, serving offline response")
		out = w.offline(ctx, req)
		out.Strategy = strat
	}
	ev.RespondWith(out)
	return nil
}

func hasAnyCookie(h http.Header, names []string) bool {
	if len(names) == 0 || len(h) == 0 {
		return false
	}
	need := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			need[n] = struct{}{}
		}
	}
	r := http.Request{Header: h}
	for _, c := range r.Cookies() {
		if _, ok := need[c.Name]; ok {
			return true
		}
	}
	return false
}
