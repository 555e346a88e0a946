// Package auth mints the bearer tokens requests carry.
//
// A Signer is a network.TokenSource: configurations built with it produce
// a fresh HS256 token per request build, reusing a cached token until it is
// close to expiry. The inspector uses the same Signer to verify tokens.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/multibar/networkkit/pkg/network"
)

// ErrInvalidToken is returned by Verify for tokens that fail validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the claims of a networkkit token.
type Claims struct {
	Client string `json:"client,omitempty"`
	jwt.RegisteredClaims
}

// Options configures a Signer.
type Options struct {
	// Secret is the HMAC key. Without it the Signer fails with network.ErrKey.
	Secret []byte

	// Issuer and Subject go into the registered claims.
	Issuer  string
	Subject string

	// Client is sent in the client claim.
	Client string

	// TTL is the token lifetime.
	// Default: 15m
	TTL time.Duration

	// Leeway is the clock skew tolerated by Verify, and how long before
	// expiry a cached token is replaced.
	// Default: 30s
	Leeway time.Duration

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// Signer issues and verifies tokens.
type Signer struct {
	opts Options

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ network.TokenSource = (*Signer)(nil)

// NewSigner returns a Signer. Zero-valued options are replaced with defaults.
func NewSigner(opts Options) *Signer {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Leeway <= 0 {
		opts.Leeway = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Signer{opts: opts}
}

// Token returns a valid token, signing a new one when the cached token is
// missing or about to expire.
func (s *Signer) Token() (string, error) {
	if len(s.opts.Secret) == 0 {
		return "", network.Fail(network.ErrKey, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	if s.token != "" && now.Add(s.opts.Leeway).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.opts.TTL)
	claims := Claims{
		Client: s.opts.Client,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.opts.Issuer,
			Subject:   s.opts.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
	if err != nil {
		return "", network.Fail(network.ErrKey, fmt.Errorf("sign token: %w", err))
	}
	s.token, s.expires = token, expires
	return token, nil
}

// Verify parses token and checks its signature, issuer and lifetime.
func (s *Signer) Verify(token string) (*Claims, error) {
	if len(s.opts.Secret) == 0 {
		return nil, network.Fail(network.ErrKey, nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.opts.Leeway),
		jwt.WithTimeFunc(s.opts.Now),
		jwt.WithExpirationRequired(),
	}
	if s.opts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.opts.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
