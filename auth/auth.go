// Package auth implements the bearer-token gate in front of every session RPC endpoint.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"
)

// HeaderName is the request header carrying the endpoint's bearer token.
const HeaderName = "authorization"

var (
	ErrInvalidToken    = errors.New("invalid auth token")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// NewToken returns a fresh random token.
func NewToken() string {
	return uuid.NewString()
}

// Gate admits requests carrying exactly the token it was built with.
type Gate struct {
	token []byte
}

// NewGate fails with ErrInvalidToken if token could never be sent as a header value,
// so a gate never exists in a reject-everything state.
func NewGate(token string) (*Gate, error) {
	if token == "" || !httpguts.ValidHeaderFieldValue(token) {
		return nil, ErrInvalidToken
	}
	return &Gate{token: []byte(token)}, nil
}

func (g *Gate) Authenticate(incoming string) error {
	if subtle.ConstantTimeCompare([]byte(incoming), g.token) != 1 {
		return ErrUnauthenticated
	}
	return nil
}

// Wrap rejects every request to next that does not authenticate.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authenticate(r.Header.Get(HeaderName)); err != nil {
			http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetHeader attaches token to an outgoing request.
func SetHeader(h http.Header, token string) {
	h.Set(HeaderName, token)
}
