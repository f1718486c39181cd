package offline0

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxRequestBody = 10 << 20

// Service is the HTTP front: it turns incoming requests into fetch events for
// the Worker and writes back whatever the worker responds with.
type Service struct {
	cfg    Config
	logger zerolog.Logger

	store  Store
	net    Network
	hub    *PageHub
	worker *Worker
	stats  *statsCollector

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewService opens the configured store and builds the service.
func NewService(ctx context.Context, cfg Config, logger zerolog.Logger) (*Service, error) {
	if err := cfg.Compile(); err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s, err := NewServiceWith(cfg, store, NewHTTPNetwork(cfg.Server.timeoutDur), logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

// NewServiceWith builds a service over an existing store and network.
// The service owns store from here on and closes it in Close.
func NewServiceWith(cfg Config, store Store, net Network, logger zerolog.Logger) (*Service, error) {
	if err := cfg.Compile(); err != nil {
		return nil, err
	}
	hub := NewPageHub(logger)
	worker, err := NewWorker(cfg, store, net,
		WithClients(hub),
		WithNotifier(hub),
		WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With().Str("component", "Service").Logger(),
		store:  store,
		net:    net,
		hub:    hub,
		worker: worker,
		stats:  newStatsCollector(),
		stopCh: make(chan struct{}),
	}, nil
}

func (s *Service) Worker() *Worker { return s.worker }

func (s *Service) Hub() *PageHub { return s.hub }

// Start installs and activates the worker, then starts background loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.worker.Start(ctx); err != nil {
		return err
	}
	s.startOnce.Do(func() {
		if every := s.cfg.Logging.logStatsEveryDur; every > 0 {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.statsLoop(every)
			}()
		}
	})
	s.logger.Info().
		Str("static", s.cfg.StaticName()).
		Str("dynamic", s.cfg.DynamicName()).
		Str("origin", s.cfg.Server.Origin).
		Msg("worker active")
	return nil
}

// Close ends page streams, waits for pending event work and closes the store.
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.hub.Shutdown()
		s.wg.Wait()
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing store failed")
		}
	})
}

func (s *Service) Handler() http.Handler {
	p := s.cfg.Admin.Prefix
	mux := http.NewServeMux()
	mux.Handle("GET "+p+"events", s.hub)
	mux.HandleFunc("POST "+p+"push", s.handlePush)
	mux.HandleFunc("POST "+p+"sync", s.handleSync)
	mux.HandleFunc("POST "+p+"notificationclick", s.handleNotificationClick)
	mux.HandleFunc("GET "+p+"healthz", s.handleHealthz)
	mux.HandleFunc(p, http.NotFound)
	mux.HandleFunc("/", s.handle)
	return mux
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	req, err := s.buildRequest(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ev := NewFetchEvent(r.Context(), req)
	if err := s.worker.Dispatch(r.Context(), ev); err != nil {
		s.logger.Error().Err(err).Str("url", req.URL.String()).Msg("fetch dispatch failed")
		setOfflineHeaders(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.track(ev)

	out, ok := ev.Outcome()
	if !ok {
		s.proxyPass(r.Context(), w, req)
		return
	}
	s.writeResponseWithStats(w, out.Response, out.Source)
}

// track keeps ev's extended work alive past the HTTP response.
func (s *Service) track(ev *Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := ev.Wait(); err != nil {
			s.logger.Debug().Err(err).Str("event_id", ev.ID).Msg("event work failed")
		}
	}()
}

// buildRequest maps r onto the origin. Navigation is detected from
// Sec-Fetch-Mode, or from Accept when a client does not send it.
func (s *Service) buildRequest(r *http.Request) (Request, error) {
	u, err := url.Parse(s.cfg.Server.Origin + r.URL.RequestURI())
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Method: r.Method,
		URL:    u,
		Mode:   ModeOther,
		Header: r.Header.Clone(),
	}
	if isNavigation(r) {
		req.Mode = ModeNavigate
	}
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return Request{}, err
		}
		req.Body = b
	}
	return req, nil
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (s *Service) proxyPass(ctx context.Context, w http.ResponseWriter, req Request) {
	resp, err := s.net.Fetch(ctx, req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("pass-through failed")
		}
		setOfflineHeaders(w.Header(), "bad-gateway")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.writeResponseWithStats(w, resp, SourceBypass)
}

func (s *Service) writeResponseWithStats(w http.ResponseWriter, resp Response, src Source) {
	writeResponse(w, resp, string(src))
	s.stats.Observe(src, len(resp.Body))
}

func writeResponse(w http.ResponseWriter, resp Response, status string) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "x-offline0") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setOfflineHeaders(w.Header(), status)
	code := resp.Status
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	_, _ = w.Write(resp.Body)
}

func setOfflineHeaders(h http.Header, status string) {
	if status != "" {
		h.Set("X-Offline0", status)
	}
	// Custom headers are invisible to cross-origin JS unless exposed.
	ensureExposedHeader(h, "X-Offline0")
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

// ---- admin endpoints ----

func (s *Service) dispatchAndWait(w http.ResponseWriter, r *http.Request, ev *Event) {
	if err := s.worker.Dispatch(r.Context(), ev); err != nil {
		s.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("dispatch failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := ev.Wait(); err != nil {
		s.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("event failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.dispatchAndWait(w, r, NewPushEvent(r.Context(), b))
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		http.Error(w, "tag is required", http.StatusBadRequest)
		return
	}
	s.dispatchAndWait(w, r, NewSyncEvent(r.Context(), tag))
}

func (s *Service) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.dispatchAndWait(w, r, NewNotificationClickEvent(r.Context(), q.Get("tag"), q.Get("action")))
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.worker.State() != StateActivated {
		http.Error(w, string(s.worker.State()), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ---- stats ----

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ss := s.stats.Snapshot()
	ev := s.logger.Info().
		Uint64("hit", ss.Hits).
		Uint64("miss", ss.Misses).
		Uint64("stale", ss.Stale).
		Uint64("offline", ss.Offline).
		Uint64("bypass", ss.Bypass).
		Float64("hit_ratio", ss.HitRatio()).
		Str("resp_avg", formatBytes(ss.AvgRespBytes)).
		Str("resp_max", formatBytes(ss.MaxRespBytes)).
		Int("pages", len(s.hub.Pages()))
	for _, name := range []string{s.cfg.StaticName(), s.cfg.DynamicName()} {
		p, err := s.store.Open(ctx, name)
		if err != nil {
			continue
		}
		if keys, err := p.Keys(ctx); err == nil {
			ev = ev.Int(name, len(keys))
		}
	}
	ev.Msg("cache stats")
}
