package offline0

import (
	"hash/crc32"
	"net/http"
	"net/url"
	"strings"
)

// Mode tells whether a request loads a whole page or a sub-resource.
type Mode string

const (
	ModeNavigate Mode = "navigate"
	ModeOther    Mode = "other"
)

// Request is the identity of something a page asked for.
type Request struct {
	Method string
	URL    *url.URL
	Mode   Mode
	Header http.Header
	Body   []byte
}

// NewRequest parses rawURL and returns a GET request for it.
func NewRequest(rawURL string, mode Mode) (Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodGet, URL: u, Mode: mode, Header: make(http.Header)}, nil
}

// Key is the cache identity of the request: method plus URL without fragment.
func (r Request) Key() string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	if r.URL == nil {
		return method + " "
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return method + " " + u.String()
}

func (r Request) IsNavigation() bool { return r.Mode == ModeNavigate }

// Response is an immutable snapshot of what the network (or a cache) returned.
// Stored copies are never mutated in place; a newer fetch replaces them.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	StoredAt   int64 // unix seconds
	Hash32     uint32
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Cacheable reports whether the response may be written into a partition.
func (r Response) Cacheable() bool {
	if !r.OK() {
		return false
	}
	cc := strings.ToLower(r.Header.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store")
}

// Clone returns a deep copy, so a body can be handed out and stored at once.
func (r Response) Clone() Response {
	out := r
	out.Header = cloneHeader(r.Header)
	if r.Body != nil {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	return out
}

func (r Response) size() int64 {
	n := int64(len(r.Body)) + int64(len(r.StatusText))
	for k, vs := range r.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

func newResponse(status int, header http.Header, body []byte, now int64) Response {
	h := cloneHeader(header)
	h.Del("Content-Length")
	return Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     h,
		Body:       body,
		StoredAt:   now,
		Hash32:     crc32.ChecksumIEEE(body),
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
