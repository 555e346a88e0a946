package network

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Method is an HTTP method.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPut    Method = "PUT"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Scheme is a URL scheme.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Cache is the cache policy a configuration asks for.
type Cache int

const (
	CacheNone Cache = iota
	CacheRAM
	CacheDisk
)

// Key is an API key sent in its own header.
type Key struct {
	Header string
	Value  string
}

// TokenSource produces bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// Configuration describes an endpoint call. Request construction reads it
// exactly once.
type Configuration interface {
	Scheme() Scheme
	Host() string
	Port() int
	Path() string
	Query() url.Values
	Method() Method
	Key() *Key
	// Token returns the bearer token, or "" for none.
	Token() (string, error)
	Body() []byte
	Cache() Cache
}

// URL derives the request URL of cfg.
func URL(cfg Configuration) (*url.URL, error) {
	scheme := cfg.Scheme()
	if scheme != SchemeHTTP && scheme != SchemeHTTPS {
		return nil, Fail(ErrURL, nil)
	}
	host := cfg.Host()
	if host == "" || strings.ContainsAny(host, "/?#") {
		return nil, Fail(ErrURL, nil)
	}
	if port := cfg.Port(); port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	path := cfg.Path()
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := &url.URL{
		Scheme: string(scheme),
		Host:   host,
		Path:   path,
	}
	if q := cfg.Query(); len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Endpoint is a Configuration assembled from options.
type Endpoint struct {
	scheme Scheme
	host   string
	port   int
	path   string
	query  url.Values
	method Method
	key    *Key
	tokens TokenSource
	body   []byte
	cache  Cache
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithMethod sets the HTTP method. Default: GET.
func WithMethod(m Method) EndpointOption {
	return func(e *Endpoint) { e.method = m }
}

// WithQuery adds a query parameter.
func WithQuery(name, value string) EndpointOption {
	return func(e *Endpoint) {
		if e.query == nil {
			e.query = url.Values{}
		}
		e.query.Add(name, value)
	}
}

// WithBody sets the request body.
func WithBody(body []byte) EndpointOption {
	return func(e *Endpoint) { e.body = append([]byte(nil), body...) }
}

// WithKey sets the API key header.
func WithKey(key Key) EndpointOption {
	return func(e *Endpoint) { e.key = &key }
}

// WithTokens sets the bearer token producer.
func WithTokens(ts TokenSource) EndpointOption {
	return func(e *Endpoint) { e.tokens = ts }
}

// WithCache sets the cache policy. Default: CacheNone.
func WithCache(c Cache) EndpointOption {
	return func(e *Endpoint) { e.cache = c }
}

// NewEndpoint builds an Endpoint for scheme://host/path.
func NewEndpoint(scheme Scheme, host, path string, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		scheme: scheme,
		host:   host,
		path:   path,
		method: MethodGet,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseEndpoint builds an Endpoint from an absolute URL.
func ParseEndpoint(raw string, opts ...EndpointOption) (*Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, Fail(ErrURL, err)
	}
	if u.Host == "" {
		return nil, Fail(ErrURL, nil)
	}
	e := NewEndpoint(Scheme(u.Scheme), u.Hostname(), u.Path)
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, Fail(ErrURL, err)
		}
		e.port = port
	}
	if q := u.Query(); len(q) > 0 {
		e.query = q
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Endpoint) Scheme() Scheme    { return e.scheme }
func (e *Endpoint) Host() string      { return e.host }
func (e *Endpoint) Port() int         { return e.port }
func (e *Endpoint) Path() string      { return e.path }
func (e *Endpoint) Query() url.Values { return e.query }
func (e *Endpoint) Method() Method    { return e.method }
func (e *Endpoint) Key() *Key         { return e.key }
func (e *Endpoint) Body() []byte      { return e.body }
func (e *Endpoint) Cache() Cache      { return e.cache }

func (e *Endpoint) Token() (string, error) {
	if e.tokens == nil {
		return "", nil
	}
	return e.tokens.Token()
}
