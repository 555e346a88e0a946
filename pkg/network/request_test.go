package network

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestNewRequest(t *testing.T) {
	cfg := NewEndpoint(SchemeHTTPS, "api.example.com", "/v2/info",
		WithQuery("id", "1"),
		WithKey(Key{Header: "X-API-Key", Value: "secret"}),
		WithTokens(StaticToken("tok")),
	)

	req, err := NewRequest(cfg, "networkkit/1.0")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	if got := req.URL().String(); got != "https://api.example.com/v2/info?id=1" {
		t.Errorf("unexpected url %q", got)
	}
	if req.Method() != MethodGet {
		t.Errorf("expected GET, got %s", req.Method())
	}
	h := req.Header()
	if h.Get("X-API-Key") != "secret" {
		t.Errorf("expected api key header, got %q", h.Get("X-API-Key"))
	}
	if h.Get("Authorization") != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", h.Get("Authorization"))
	}
	if h.Get("User-Agent") != "networkkit/1.0" {
		t.Errorf("expected user agent, got %q", h.Get("User-Agent"))
	}
	if h.Get("Cache-Control") != "no-cache" {
		t.Errorf("expected no-cache for CacheNone, got %q", h.Get("Cache-Control"))
	}
	if req.Token() != "tok" {
		t.Errorf("expected token tok, got %q", req.Token())
	}
}

func TestRequestIdentity(t *testing.T) {
	body1 := []byte(`{"a":1}`)
	body2 := []byte(`{"a":1}`)

	a, err := NewRequest(NewEndpoint(SchemeHTTPS, "h.example", "/p", WithMethod(MethodPost), WithBody(body1)), "c")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	b, err := NewRequest(NewEndpoint(SchemeHTTPS, "h.example", "/p", WithMethod(MethodPost), WithBody(body2)), "c")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	if !a.Equal(b) || a.Key() != b.Key() {
		t.Error("requests with equal bodies in distinct buffers should be equal")
	}

	tests := []struct {
		name string
		cfg  Configuration
	}{
		{"method", NewEndpoint(SchemeHTTPS, "h.example", "/p", WithMethod(MethodPut), WithBody(body1))},
		{"body", NewEndpoint(SchemeHTTPS, "h.example", "/p", WithMethod(MethodPost), WithBody([]byte(`{"a":2}`)))},
		{"path", NewEndpoint(SchemeHTTPS, "h.example", "/q", WithMethod(MethodPost), WithBody(body1))},
		{"token", NewEndpoint(SchemeHTTPS, "h.example", "/p", WithMethod(MethodPost), WithBody(body1), WithTokens(StaticToken("x")))},
		{"key", NewEndpoint(SchemeHTTPS, "h.example", "/p", WithMethod(MethodPost), WithBody(body1), WithKey(Key{Header: "K", Value: "v"}))},
	}
	for _, tt := range tests {
		other, err := NewRequest(tt.cfg, "c")
		if err != nil {
			t.Fatalf("%s: NewRequest: %v", tt.name, err)
		}
		if a.Equal(other) {
			t.Errorf("%s: expected requests to differ", tt.name)
		}
	}
}

func TestRequestImmutable(t *testing.T) {
	body := []byte("payload")
	req, err := NewRequest(NewEndpoint(SchemeHTTP, "h.example", "/", WithMethod(MethodPost), WithBody(body)), "")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	key := req.Key()

	body[0] = 'X'
	req.Body()[0] = 'Y'
	req.Header().Set("X-Mutated", "1")
	req.URL().Path = "/changed"

	if string(req.Body()) != "payload" {
		t.Errorf("body mutated: %q", req.Body())
	}
	if req.Header().Get("X-Mutated") != "" {
		t.Error("header mutated through accessor")
	}
	if req.URL().Path != "/" {
		t.Errorf("url mutated: %q", req.URL().Path)
	}
	if req.Key() != key {
		t.Error("key changed")
	}
}

func TestNewRequestInvalidURL(t *testing.T) {
	tests := []Configuration{
		NewEndpoint("ftp", "h.example", "/"),
		NewEndpoint(SchemeHTTPS, "", "/"),
		NewEndpoint(SchemeHTTPS, "bad/host", "/"),
	}
	for _, cfg := range tests {
		_, err := NewRequest(cfg, "")
		if !errors.Is(err, ErrURL) {
			t.Errorf("expected ErrURL, got %v", err)
		}
	}
}

type failingTokens struct{}

func (failingTokens) Token() (string, error) { return "", errors.New("no signer") }

func TestNewRequestTokenFailure(t *testing.T) {
	_, err := NewRequest(NewEndpoint(SchemeHTTPS, "h.example", "/", WithTokens(failingTokens{})), "")
	if !errors.Is(err, ErrKey) {
		t.Errorf("expected ErrKey, got %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	e, err := ParseEndpoint("http://localhost:8080/v1/items?b=2&a=1", WithMethod(MethodDelete))
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	u, err := URL(e)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if u.String() != "http://localhost:8080/v1/items?a=1&b=2" {
		t.Errorf("unexpected url %q", u.String())
	}
	if e.Method() != MethodDelete {
		t.Errorf("expected DELETE, got %s", e.Method())
	}

	if _, err := ParseEndpoint("/relative"); !errors.Is(err, ErrURL) {
		t.Errorf("expected ErrURL for relative url, got %v", err)
	}
}

func TestRequestHTTP(t *testing.T) {
	req, err := NewRequest(NewEndpoint(SchemeHTTPS, "h.example", "/upload", WithMethod(MethodPost), WithBody([]byte("abc"))), "ua")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	hr, err := req.HTTP(context.Background(), nil)
	if err != nil {
		t.Fatalf("HTTP: %v", err)
	}
	if hr.Method != "POST" || hr.URL.String() != "https://h.example/upload" {
		t.Errorf("unexpected request %s %s", hr.Method, hr.URL)
	}
	got, _ := io.ReadAll(hr.Body)
	if string(got) != "abc" {
		t.Errorf("unexpected body %q", got)
	}
	if hr.Header.Get("User-Agent") != "ua" {
		t.Errorf("expected user agent header")
	}

	if _, err := (Request{}).HTTP(context.Background(), nil); !errors.Is(err, ErrURL) {
		t.Errorf("expected ErrURL for zero request, got %v", err)
	}
}

func TestRequestFromHTTP(t *testing.T) {
	req, err := NewRequest(NewEndpoint(SchemeHTTPS, "h.example", "/upload", WithMethod(MethodPut), WithBody([]byte("abc"))), "ua")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	hr, err := req.HTTP(context.Background(), nil)
	if err != nil {
		t.Fatalf("HTTP: %v", err)
	}

	back, err := RequestFromHTTP(hr)
	if err != nil {
		t.Fatalf("RequestFromHTTP: %v", err)
	}
	if !back.Equal(req) {
		t.Errorf("rebuilt request %s should equal %s", back, req)
	}

	hr.URL.Host = ""
	if _, err := RequestFromHTTP(hr); !errors.Is(err, ErrURL) {
		t.Errorf("expected ErrURL without host, got %v", err)
	}
}
