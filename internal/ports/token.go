package ports

import (
	"context"
	"time"
)

// Token is a bearer credential with an advertised or estimated expiry.
type Token struct {
	Value  string
	Expiry time.Time

	// HeaderHint names an extra header the ingest service wants alongside
	// the Authorization header, e.g. the token-type marker for PATs.
	HeaderHint map[string]string
}

// Valid reports whether the token can still be used at time now, with the
// given leeway subtracted so callers refresh before, not after, expiry.
func (t Token) Valid(now time.Time, leeway time.Duration) bool {
	return t.Value != "" && now.Add(leeway).Before(t.Expiry)
}

// TokenSource supplies a currently valid bearer credential. Implementations
// may return a fixed pre-issued token or mint one over the network; callers
// treat both identically.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}
