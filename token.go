package safi

import (
	"context"
	"net/http"
	"strings"

	"github.com/jnamaya/SAFi-sub001/internal/kv"
)

// tokenKey is where the default TokenStore persists the bearer token.
const tokenKey = "auth_token"

// TokenStore is the auth capability: a simple get/set/clear around the
// current bearer token. The token is read once per outgoing request.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// kvTokenStore persists the token in the client's key-value store.
type kvTokenStore struct {
	store kv.Store
}

// NewKVTokenStore returns a TokenStore backed by the given store.
func NewKVTokenStore(store kv.Store) TokenStore {
	return &kvTokenStore{store: store}
}

func (s *kvTokenStore) Token(ctx context.Context) (string, error) {
	data, ok, err := s.store.Get(ctx, tokenKey)
	if err != nil || !ok {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *kvTokenStore) SetToken(ctx context.Context, token string) error {
	return s.store.Set(ctx, tokenKey, []byte(token))
}

func (s *kvTokenStore) Clear(ctx context.Context) error {
	return s.store.Remove(ctx, tokenKey)
}

// wrapTransportWithToken wraps the HTTP client's transport so every
// outgoing request carries an Authorization header built from the token
// store's current value.
func (c *Client) wrapTransportWithToken() {
	baseTransport := c.http.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	c.http.Transport = &tokenTransport{base: baseTransport, tokens: c.tokens}
}

// tokenTransport wraps an http.RoundTripper to add the bearer token.
type tokenTransport struct {
	base   http.RoundTripper
	tokens TokenStore
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.Token(req.Context())
	if err != nil || token == "" {
		// No token: send the request bare and let the server 401.
		return t.base.RoundTrip(req)
	}
	// Clone the request to avoid modifying the original.
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(cloned)
}
