package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_NoneModeNeedsUser(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_user", decode[ProblemDetail](t, resp).Type)
	assert.Empty(t, ts.engine.inputs)
}

func TestAuth_APIKey(t *testing.T) {
	ts := newTestServer(t, ServerConfig{Auth: AuthConfig{Mode: "api-key", APIKey: "test-secret-key"}}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, asU1)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_auth", decode[ProblemDetail](t, resp).Type)

	resp = do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{"Authorization": "Basic abc", UserHeader: "u1"})
	assert.Equal(t, "invalid_auth_scheme", decode[ProblemDetail](t, resp).Type)

	resp = do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{"Authorization": "Bearer wrong-key", UserHeader: "u1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_api_key", decode[ProblemDetail](t, resp).Type)

	resp = do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{"Authorization": "Bearer test-secret-key"})
	assert.Equal(t, "missing_user", decode[ProblemDetail](t, resp).Type)

	resp = do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{"Authorization": "Bearer test-secret-key", UserHeader: "u1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, ts.engine.inputs, 1)
	assert.Equal(t, "u1", ts.engine.inputs[0].UserID)
}

func TestAuth_JWT(t *testing.T) {
	const secret = "jwt-secret"
	ts := newTestServer(t, ServerConfig{Auth: AuthConfig{Mode: "jwt", JWTSecret: secret}}, nil, nil)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	good := signed(t, secret, jwt.RegisteredClaims{Subject: "u7", ExpiresAt: future})
	// The header cannot override the token's subject.
	resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{"Authorization": "Bearer " + good, UserHeader: "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u7", ts.engine.inputs[0].UserID)

	bad := map[string]string{
		"expired":      signed(t, secret, jwt.RegisteredClaims{Subject: "u7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
		"no expiry":    signed(t, secret, jwt.RegisteredClaims{Subject: "u7"}),
		"wrong secret": signed(t, "other", jwt.RegisteredClaims{Subject: "u7", ExpiresAt: future}),
		"no subject":   signed(t, secret, jwt.RegisteredClaims{ExpiresAt: future}),
		"garbage":      "not.a.token",
	}
	for name, tok := range bad {
		resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{"Authorization": "Bearer " + tok})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
		assert.Equal(t, "invalid_token", decode[ProblemDetail](t, resp).Type, name)
	}
	assert.Len(t, ts.engine.inputs, 1)
}

func TestAuth_ProbesSkipAuth(t *testing.T) {
	ts := newTestServer(t, ServerConfig{Auth: AuthConfig{Mode: "jwt", JWTSecret: "s"}}, nil, nil)
	for _, p := range []string{"/healthz", "/readyz", "/metrics"} {
		assert.Equal(t, http.StatusOK, do(t, ts.app, "GET", p, "", nil).StatusCode, p)
	}
}
