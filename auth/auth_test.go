package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGateRejectsBadTokens(t *testing.T) {
	for _, tok := range []string{"", "line\nbreak", "nul\x00byte"} {
		_, err := NewGate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEqual(t, a, b)
	_, err := NewGate(a)
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	g, err := NewGate("secret")
	require.NoError(t, err)

	assert.NoError(t, g.Authenticate("secret"))
	for _, s := range []string{"", "Secret", "secret ", "Bearer secret", "secre"} {
		assert.ErrorIs(t, g.Authenticate(s), ErrUnauthenticated, "token %q", s)
	}
}

func TestWrap(t *testing.T) {
	g, err := NewGate("secret")
	require.NoError(t, err)

	var calls int
	srv := httptest.NewServer(g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("ok"))
	})))
	t.Cleanup(srv.Close)

	cases := []struct {
		name    string
		token   *string
		expCode int
	}{
		{name: "valid", token: strPtr("secret"), expCode: http.StatusOK},
		{name: "wrong", token: strPtr("nope"), expCode: http.StatusUnauthorized},
		{name: "missing", expCode: http.StatusUnauthorized},
		{name: "valid after rejections", token: strPtr("secret"), expCode: http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			if c.token != nil {
				SetHeader(req.Header, *c.token)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, c.expCode, resp.StatusCode)
		})
	}
	assert.Equal(t, 2, calls)
}

func strPtr(s string) *string { return &s }
