package network

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
)

// Request is the identity-bearing description of an HTTP call.
//
// Requests are immutable: constructors copy their inputs and accessors
// return copies. The zero Request has no URL.
type Request struct {
	url    *url.URL
	method Method
	header http.Header
	body   []byte
	key    string
}

// NewRequest builds a Request from cfg. client, when not empty, is sent as
// the User-Agent.
func NewRequest(cfg Configuration, client string) (Request, error) {
	u, err := URL(cfg)
	if err != nil {
		return Request{}, err
	}
	header := http.Header{}
	if client != "" {
		header.Set("User-Agent", client)
	}
	if key := cfg.Key(); key != nil && key.Header != "" {
		header.Set(key.Header, key.Value)
	}
	token, err := cfg.Token()
	if err != nil {
		return Request{}, AsFailure(err, ErrKey)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if cfg.Cache() == CacheNone {
		header.Set("Cache-Control", "no-cache")
	}
	method := cfg.Method()
	if method == "" {
		method = MethodGet
	}
	return newRequest(u, method, header, cfg.Body()), nil
}

// RequestFromHTTP rebuilds a Request from a transport request. The body of
// req is read and closed.
func RequestFromHTTP(req *http.Request) (Request, error) {
	if req == nil || req.URL == nil || req.URL.Host == "" {
		return Request{}, Fail(ErrURL, nil)
	}
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		defer req.Body.Close()
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return Request{}, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}
	method := Method(req.Method)
	if method == "" {
		method = MethodGet
	}
	u := *req.URL
	return newRequest(&u, method, req.Header, body), nil
}

func newRequest(u *url.URL, method Method, header http.Header, body []byte) Request {
	r := Request{
		url:    u,
		method: method,
		header: header.Clone(),
	}
	if len(body) > 0 {
		r.body = bytes.Clone(body)
	}
	r.key = identity(r)
	return r
}

// identity hashes everything that makes two requests the same operation.
func identity(r Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", r.method, r.url.String())
	names := make([]string, 0, len(r.header))
	for name := range r.header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.header[name] {
			fmt.Fprintf(h, "%s: %s\n", name, v)
		}
	}
	fmt.Fprintf(h, "\n%d\n", len(r.body))
	h.Write(r.body)
	return hex.EncodeToString(h.Sum(nil))
}

// Key returns the identity of r. Equal requests have equal keys.
func (r Request) Key() string { return r.key }

// Equal reports whether r and other are the same logical operation.
func (r Request) Equal(other Request) bool { return r.key == other.key }

// IsZero reports whether r was never built.
func (r Request) IsZero() bool { return r.url == nil }

// URL returns a copy of the request URL, or nil for the zero Request.
func (r Request) URL() *url.URL {
	if r.url == nil {
		return nil
	}
	u := *r.url
	return &u
}

func (r Request) Method() Method { return r.method }

// Header returns a copy of the request headers.
func (r Request) Header() http.Header { return r.header.Clone() }

// Body returns a copy of the request body.
func (r Request) Body() []byte { return bytes.Clone(r.body) }

// Token returns the bearer token carried by r, if any.
func (r Request) Token() string {
	const prefix = "Bearer "
	v := r.header.Get("Authorization")
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return ""
}

// HTTP returns a transport request for r. body overrides the request body
// when not nil.
func (r Request) HTTP(ctx context.Context, body []byte) (*http.Request, error) {
	if r.url == nil {
		return nil, Fail(ErrURL, nil)
	}
	if body == nil {
		body = r.body
	}
	req, err := http.NewRequestWithContext(ctx, string(r.method), r.url.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if len(body) == 0 {
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
	}
	for name, values := range r.header {
		req.Header[name] = append([]string(nil), values...)
	}
	return req, nil
}

func (r Request) String() string {
	if r.url == nil {
		return "<nil request>"
	}
	return string(r.method) + " " + r.url.String()
}
