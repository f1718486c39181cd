package offline0

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Network performs real fetches. A transport failure is returned as an error;
// any HTTP status, 2xx or not, is a Response.
type Network interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// NetworkFunc adapts a function to Network.
type NetworkFunc func(ctx context.Context, req Request) (Response, error)

func (f NetworkFunc) Fetch(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// HTTPNetwork fetches over net/http.
type HTTPNetwork struct {
	Client *http.Client
}

func NewHTTPNetwork(timeout time.Duration) *HTTPNetwork {
	return &HTTPNetwork{Client: &http.Client{Timeout: timeout}}
}

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func (n *HTTPNetwork) Fetch(ctx context.Context, r Request) (Response, error) {
	target := r.URL.String()
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Response{}, &FetchError{URL: target, Err: err}
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := n.Client.Do(req)
	if err != nil {
		return Response{}, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &FetchError{URL: target, Err: err}
	}
	out := newResponse(resp.StatusCode, resp.Header, b, time.Now().Unix())
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
