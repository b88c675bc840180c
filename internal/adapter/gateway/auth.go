package gateway

import (
	"crypto/subtle"

	"ppi-control/internal/domain"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// Token is one accepted bearer token and the client name it maps to.
type Token struct {
	Token string
	Name  string
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a fixed token list using
// constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator. Empty tokens are skipped so a
// blank config entry never matches an absent query parameter.
func NewStaticTokenAuth(tokens []Token) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name},
		})
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			info := *e.info
			return &info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}
