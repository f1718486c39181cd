package offline0

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%s -> %s from %s: %w", from, to, w.state, ErrInvalidState)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Install dispatches an install event and waits for the pre-warm to finish.
func (w *Worker) Install(ctx context.Context) error {
	ev := NewEvent(ctx, EventInstall)
	if err := w.Dispatch(ctx, ev); err != nil {
		return err
	}
	return ev.Wait()
}

// Activate dispatches an activate event and waits for it.
func (w *Worker) Activate(ctx context.Context) error {
	ev := NewEvent(ctx, EventActivate)
	if err := w.Dispatch(ctx, ev); err != nil {
		return err
	}
	return ev.Wait()
}

// Start installs and then activates at once, without waiting for pages
// controlled by an older version to go away.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := w.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

func (w *Worker) onInstall(_ context.Context, ev *Event) error {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	ev.WaitUntil(func(ctx context.Context) error {
		w.prewarm(ctx)
		w.setState(StateInstalled)
		return nil
	})
	return nil
}

// prewarmRoutes is the configured list plus the offline page.
func (w *Worker) prewarmRoutes() []string {
	routes := append([]string(nil), w.cfg.Prewarm.Routes...)
	if off := w.cfg.Prewarm.OfflinePage; off != "" {
		found := false
		for _, r := range routes {
			if r == off {
				found = true
				break
			}
		}
		if !found {
			routes = append(routes, off)
		}
	}
	return routes
}

// prewarm fills the static partition with the app shell and seeds the dynamic
// partition with pages found in sitemaps. Every failure is logged and skipped.
func (w *Worker) prewarm(ctx context.Context) {
	routes := w.prewarmRoutes()
	static := w.cfg.StaticName()
	if _, err := w.store.Open(ctx, static); err != nil {
		w.logger.Error().Err(err).Str("partition", static).Msg("pre-warm: open partition failed")
		return
	}

	warmed, failed := w.warmAll(ctx, static, routes)
	lvl := zerolog.InfoLevel
	if warmed == 0 && failed > 0 {
		lvl = zerolog.ErrorLevel
	}
	w.logger.WithLevel(lvl).Int("warmed", warmed).Int("failed", failed).Str("partition", static).Msg("pre-warm finished")

	if len(w.cfg.Prewarm.Sitemaps) == 0 {
		return
	}
	paths, err := w.discoverPaths(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("pre-warm: sitemap discovery failed")
	}
	var pages []string
	for _, p := range paths {
		req := w.requestFor(p)
		if w.classifier.Classify(req.URL).Strategy() != StrategyCacheFirst {
			pages = append(pages, p)
		}
	}
	if len(pages) == 0 {
		return
	}
	warmed, failed = w.warmAll(ctx, w.cfg.DynamicName(), pages)
	w.logger.Info().Int("warmed", warmed).Int("failed", failed).Str("partition", w.cfg.DynamicName()).Msg("sitemap pre-warm finished")
}

func (w *Worker) warmAll(ctx context.Context, partition string, paths []string) (warmed, failed int) {
	var ok, bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.cfg.Prewarm.Concurrency)
	for _, path := range paths {
		req := w.requestFor(path)
		g.Go(func() error {
			resp, err := w.net.Fetch(ctx, req)
			if err != nil {
				bad.Add(1)
				w.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("pre-warm fetch failed")
				return nil
			}
			if !resp.OK() {
				bad.Add(1)
				w.logger.Warn().Int("status", resp.Status).Str("url", req.URL.String()).Msg("pre-warm got non-ok status")
				return nil
			}
			w.save(ctx, partition, req.Key(), resp)
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

func (w *Worker) onActivate(_ context.Context, ev *Event) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	ev.WaitUntil(func(ctx context.Context) error {
		deleted, err := w.collectGarbage(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("activate: deleting old partitions failed")
		} else if len(deleted) > 0 {
			w.logger.Info().Strs("deleted", deleted).Msg("activate: deleted old partitions")
		}

		changed, err := w.clients.Claim(ctx, w.cfg.Cache.Version)
		if err != nil {
			w.logger.Warn().Err(err).Msg("activate: claiming pages failed")
		}
		w.setState(StateActivated)
		w.controllerChanged(ctx, changed)
		return nil
	})
	return nil
}

// collectGarbage removes every partition except the two current ones.
func (w *Worker) collectGarbage(ctx context.Context) ([]string, error) {
	static, dynamic := w.cfg.StaticName(), w.cfg.DynamicName()
	return w.store.DeleteFunc(ctx, func(name string) bool {
		return name != static && name != dynamic
	})
}

// controllerChanged reloads pages whose code came from another version.
func (w *Worker) controllerChanged(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := w.clients.Reload(ctx, id); err != nil {
			w.logger.Warn().Err(err).Str("page", id).Msg("reload after controller change failed")
		}
	}
}
