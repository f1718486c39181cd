package offline0

import (
	"context"
	"net/http"
	"time"
)

const offlineBody = "You are offline. Please check your connection and try again."

// offline answers a request that no strategy could serve. Navigations get the
// pre-warmed shell copy of the page, then the offline page, then plain text.
// Sub-resources get a bare 503.
func (w *Worker) offline(ctx context.Context, req Request) Outcome {
	if !req.IsNavigation() {
		return Outcome{Response: serviceUnavailable(), Source: SourceOffline}
	}
	static := w.cfg.StaticName()
	if resp, ok := w.lookup(ctx, static, req.Key()); ok {
		return Outcome{Response: resp, Source: SourceOffline}
	}
	if w.offlineKey != "" {
		if resp, ok := w.lookup(ctx, static, w.offlineKey); ok {
			return Outcome{Response: resp, Source: SourceOffline}
		}
	}
	return Outcome{Response: offlineText(), Source: SourceOffline}
}

func serviceUnavailable() Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: "Service Unavailable",
		Header:     h,
		Body:       []byte{},
		StoredAt:   time.Now().Unix(),
	}
}

func offlineText() Response {
	resp := serviceUnavailable()
	resp.Body = []byte(offlineBody)
	return resp
}
