package offline0

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const maxSitemaps = 64

type sitemapDoc struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// discoverPaths walks the configured sitemaps, following nested indexes, and
// returns the same-origin paths they list. Partial results are returned on error.
func (w *Worker) discoverPaths(ctx context.Context) ([]string, error) {
	seenSitemaps := map[string]struct{}{}
	seenPaths := map[string]struct{}{}
	var out []string

	queue := make([]string, 0, len(w.cfg.Prewarm.Sitemaps))
	for _, sm := range w.cfg.Prewarm.Sitemaps {
		if sm = strings.TrimSpace(sm); sm != "" {
			queue = append(queue, sm)
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sm := queue[0]
		queue = queue[1:]
		req := w.requestFor(sm)
		key := req.URL.String()
		if _, ok := seenSitemaps[key]; ok {
			continue
		}
		if len(seenSitemaps) >= maxSitemaps {
			return out, fmt.Errorf("more than %d sitemaps", maxSitemaps)
		}
		seenSitemaps[key] = struct{}{}

		doc, err := w.fetchSitemap(ctx, req)
		if err != nil {
			return out, fmt.Errorf("fetch sitemap %q: %w", key, err)
		}
		queue = append(queue, doc.Sitemaps...)

		ignored := 0
		for _, loc := range doc.URLs {
			path := w.pathFromLoc(loc)
			if path == "" {
				ignored++
				continue
			}
			if _, ok := seenPaths[path]; ok {
				continue
			}
			seenPaths[path] = struct{}{}
			out = append(out, path)
		}
		w.logger.Debug().Str("sitemap", key).Int("urls", len(doc.URLs)).Int("ignored", ignored).Msg("sitemap parsed")
	}
	return out, nil
}

func (w *Worker) fetchSitemap(ctx context.Context, req Request) (sitemapDoc, error) {
	req.Mode = ModeOther
	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		return sitemapDoc{}, err
	}
	if !resp.OK() {
		b := resp.Body
		if len(b) > 2048 {
			b = b[:2048]
		}
		return sitemapDoc{}, fmt.Errorf("unexpected status %d: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	body := resp.Body
	// A .gz URL may arrive already decoded, so trust the magic bytes over the name.
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return sitemapDoc{}, err
		}
		defer gz.Close()
		if body, err = io.ReadAll(gz); err != nil {
			return sitemapDoc{}, err
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return sitemapDoc{}, err
	}
	for i := range doc.URLs {
		doc.URLs[i] = strings.TrimSpace(doc.URLs[i])
	}
	nested := doc.Sitemaps[:0]
	for _, s := range doc.Sitemaps {
		if s = strings.TrimSpace(s); s != "" {
			nested = append(nested, s)
		}
	}
	doc.Sitemaps = nested
	return doc, nil
}

// pathFromLoc returns the path of an in-scope loc, or "" for anything else.
func (w *Worker) pathFromLoc(loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	u, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	if u.IsAbs() && !w.sameOrigin(u) {
		return ""
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
