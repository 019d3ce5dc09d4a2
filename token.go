package convsocket

import (
	"context"
	"errors"
)

// TokenProvider supplies the bearer token used when (re)connecting.
// An empty token or ErrNoToken means the user is not authenticated.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to a TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// fetchToken asks p for a token, normalizing every "not authenticated"
// outcome to ErrNoToken.
func fetchToken(ctx context.Context, p TokenProvider) (string, error) {
	if p == nil {
		return "", ErrNoToken
	}
	token, err := p.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return "", ErrNoToken
		}
		return "", errors.Join(ErrNoToken, err)
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// reconnectToken returns the token for a reconnect attempt: a fresh one from
// the provider when there is one, else the token the client connected with.
func (c *Client) reconnectToken(ctx context.Context) (string, error) {
	if c.cfg.tokens != nil {
		return fetchToken(ctx, c.cfg.tokens)
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
