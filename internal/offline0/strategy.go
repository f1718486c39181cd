package offline0

import (
	"context"
	"net/http"
)

// conditionalHeaders would let the origin answer 304, which cannot be stored.
var conditionalHeaders = []string{
	"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since", "If-Range",
}

// Source tells where a served response came from. The value is the one
// written to the X-Offline0 header.
type Source string

const (
	SourceCache   Source = "hit"
	SourceNetwork Source = "miss"
	SourceStale   Source = "stale"
	SourceOffline Source = "offline"
	SourceBypass  Source = "bypass"
)

// Outcome is the result of running a strategy for one request.
type Outcome struct {
	Response Response
	Source   Source
	Strategy Strategy
}

type strategyFunc func(ctx context.Context, ev *Event) (Outcome, error)

func (w *Worker) strategyFor(s Strategy) strategyFunc {
	switch s {
	case StrategyCacheFirst:
		return w.cacheFirst
	case StrategyNetworkFirst:
		return w.networkFirst
	default:
		return w.staleWhileRevalidate
	}
}

// cacheFirst serves from the static partition and goes to the network only on
// a miss. Network failure propagates.
func (w *Worker) cacheFirst(ctx context.Context, ev *Event) (Outcome, error) {
	req := ev.Request
	key := req.Key()
	static := w.cfg.StaticName()

	if resp, ok := w.lookup(ctx, static, key); ok {
		return Outcome{Response: resp, Source: SourceCache, Strategy: StrategyCacheFirst}, nil
	}

	resp, err := w.fetchFull(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if resp.Cacheable() {
		w.save(ctx, static, key, resp)
	}
	return Outcome{Response: resp, Source: SourceNetwork, Strategy: StrategyCacheFirst}, nil
}

// networkFirst prefers a fresh response and keeps the dynamic partition
// updated; the cached copy is used only when the network is unreachable.
func (w *Worker) networkFirst(ctx context.Context, ev *Event) (Outcome, error) {
	req := ev.Request
	key := req.Key()
	dynamic := w.cfg.DynamicName()

	resp, err := w.fetchFull(ctx, req)
	if err == nil {
		if resp.Cacheable() {
			w.save(ctx, dynamic, key, resp)
		}
		return Outcome{Response: resp, Source: SourceNetwork, Strategy: StrategyNetworkFirst}, nil
	}

	if cached, ok := w.lookup(ctx, dynamic, key); ok {
		w.logger.Debug().Err(err).Str("key", key).Msg("network failed, serving cached copy")
		return Outcome{Response: cached, Source: SourceStale, Strategy: StrategyNetworkFirst}, nil
	}
	return Outcome{}, err
}

// staleWhileRevalidate answers from the dynamic partition at once and
// refreshes the entry in the background. Without a cached copy it waits for
// the network like networkFirst, minus the fallback.
func (w *Worker) staleWhileRevalidate(ctx context.Context, ev *Event) (Outcome, error) {
	req := ev.Request
	key := req.Key()
	dynamic := w.cfg.DynamicName()

	if cached, ok := w.lookup(ctx, dynamic, key); ok {
		w.revalidateAsync(ev, cached)
		return Outcome{Response: cached, Source: SourceCache, Strategy: StrategyStaleWhileRevalidate}, nil
	}

	resp, err := w.fetchFull(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if resp.Cacheable() {
		w.save(ctx, dynamic, key, resp)
	}
	return Outcome{Response: resp, Source: SourceNetwork, Strategy: StrategyStaleWhileRevalidate}, nil
}

// revalidateAsync registers a background refresh with the event. When the
// in-flight limit is reached the refresh is skipped; a later request retries.
func (w *Worker) revalidateAsync(ev *Event, cached Response) {
	select {
	case w.bgSem <- struct{}{}:
	default:
		w.logger.Debug().Str("key", ev.Request.Key()).Msg("revalidation skipped, too many in flight")
		return
	}
	req := ev.Request
	ev.WaitUntil(func(ctx context.Context) error {
		defer func() { <-w.bgSem }()
		w.revalidateOnce(ctx, req, cached)
		return nil
	})
}

// revalidateOnce never reports failure; the stale copy stays as it was.
func (w *Worker) revalidateOnce(ctx context.Context, req Request, cached Response) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Revalidate.timeoutDur)
	defer cancel()
	key := req.Key()
	resp, err := w.fetchFull(ctx, req)
	if err != nil {
		w.revalidateLog.Err(err, "revalidation abandoned")
		return
	}
	if !resp.Cacheable() {
		return
	}
	if resp.Status == cached.Status && resp.Hash32 == cached.Hash32 && len(resp.Body) == len(cached.Body) {
		return
	}
	w.save(ctx, w.cfg.DynamicName(), key, resp)
}

// fetchFull asks the origin for a complete response, dropping the page's
// conditional headers.
func (w *Worker) fetchFull(ctx context.Context, req Request) (Response, error) {
	h := make(http.Header, len(req.Header))
	for k, vs := range req.Header {
		h[k] = vs
	}
	for _, k := range conditionalHeaders {
		h.Del(k)
	}
	req.Header = h
	return w.net.Fetch(ctx, req)
}

// lookup treats a store error like a miss.
func (w *Worker) lookup(ctx context.Context, partition, key string) (Response, bool) {
	p, err := w.store.Open(ctx, partition)
	if err != nil {
		w.logger.Warn().Err(err).Str("partition", partition).Msg("open partition failed")
		return Response{}, false
	}
	resp, ok, err := p.Match(ctx, key)
	if err != nil {
		w.logger.Warn().Err(err).Str("partition", partition).Str("key", key).Msg("cache match failed")
		return Response{}, false
	}
	return resp, ok
}

// save writes a single entry; failures are logged and otherwise ignored.
func (w *Worker) save(ctx context.Context, partition, key string, resp Response) {
	p, err := w.store.Open(ctx, partition)
	if err == nil {
		err = p.Put(ctx, key, resp.Clone())
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("partition", partition).Str("key", key).Msg("cache put failed")
	}
}
