package authgate_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-auth/internal/authgate"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-auth/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/token"
)

type fixture struct {
	gate   *authgate.Gate
	tokens *token.Service
	clock  *clock.Fake
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	tokens, err := token.NewService(token.Config{Secret: "gate-secret", Clock: clk})
	require.NoError(t, err)
	return fixture{
		gate:   authgate.New(tokens, ratelimit.NewMemoryLimiter(clk), nil, nil),
		tokens: tokens,
		clock:  clk,
	}
}

func (f fixture) access(t *testing.T, role rbac.Role) string {
	t.Helper()
	raw, _, err := f.tokens.Mint("17", "u@example.com", role, token.KindAccess)
	require.NoError(t, err)
	return raw
}

var echoSubject = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := authgate.PrincipalFromContext(r.Context())
	if !ok {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(p.Subject + ":" + string(p.Role)))
})

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"missing":        {"", "", false},
		"basic scheme":   {"Basic Zm9vOmJhcg==", "", false},
		"no value":       {"Bearer ", "", false},
		"scheme only":    {"Bearer", "", false},
		"lowercase":      {"bearer abc.def.ghi", "abc.def.ghi", true},
		"canonical":      {"Bearer abc.def.ghi", "abc.def.ghi", true},
		"embedded space": {"Bearer abc def", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got, ok := authgate.BearerToken(req)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Authenticate(echoSubject)

	t.Run("missing header", func(t *testing.T) {
		rr := serve(h, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "authentication required")
		assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
	})

	t.Run("malformed header", func(t *testing.T) {
		rr := serve(h, "Token abc")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "authentication required")
	})

	t.Run("invalid token", func(t *testing.T) {
		rr := serve(h, "Bearer not.a.token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid or expired token")
	})

	t.Run("refresh token is not accepted", func(t *testing.T) {
		refresh, _, err := f.tokens.Mint("17", "u@example.com", rbac.RoleUser, token.KindRefresh)
		require.NoError(t, err)
		rr := serve(h, "Bearer "+refresh)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token attaches principal", func(t *testing.T) {
		rr := serve(h, "Bearer "+f.access(t, rbac.RoleUser))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "17:user", rr.Body.String())
	})

	t.Run("expired token", func(t *testing.T) {
		raw := f.access(t, rbac.RoleUser)
		f.clock.Advance(token.DefaultAccessTTL + time.Second)
		rr := serve(h, "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid or expired token")
	})
}

func TestOptional(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Optional(echoSubject)

	assert.Equal(t, "anonymous", serve(h, "").Body.String())
	assert.Equal(t, "anonymous", serve(h, "Bearer garbage").Body.String())

	rr := serve(h, "Bearer "+f.access(t, rbac.RoleGuest))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "17:guest", rr.Body.String())
}

func TestRequireRoles(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Authenticate(f.gate.RequireRoles(rbac.RoleAdmin, rbac.RoleModerator)(echoSubject))

	for _, role := range rbac.Roles() {
		rr := serve(h, "Bearer "+f.access(t, role))
		allowed := role == rbac.RoleAdmin || role == rbac.RoleModerator
		if allowed {
			assert.Equal(t, http.StatusOK, rr.Code, role)
		} else {
			assert.Equal(t, http.StatusForbidden, rr.Code, role)
		}
	}

	unauth := serve(f.gate.RequireRoles(rbac.RoleAdmin)(echoSubject), "")
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)
}

func TestRequirePermission(t *testing.T) {
	f := newFixture(t)
	h := f.gate.Authenticate(f.gate.RequirePermission(rbac.PermListUsers)(echoSubject))

	assert.Equal(t, http.StatusOK, serve(h, "Bearer "+f.access(t, rbac.RoleModerator)).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "Bearer "+f.access(t, rbac.RoleUser)).Code)

	both := f.gate.Authenticate(f.gate.RequirePermission(rbac.PermListUsers, rbac.PermManageRoles)(echoSubject))
	assert.Equal(t, http.StatusForbidden, serve(both, "Bearer "+f.access(t, rbac.RoleModerator)).Code)
	assert.Equal(t, http.StatusOK, serve(both, "Bearer "+f.access(t, rbac.RoleAdmin)).Code)
}

func TestThrottle(t *testing.T) {
	f := newFixture(t)
	rule := ratelimit.Rule{Name: "login", MaxAttempts: 2, Window: time.Minute}
	h := f.gate.Throttle(rule, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusNoContent, call("10.1.1.1:5000").Code)
	assert.Equal(t, http.StatusNoContent, call("10.1.1.1:5001").Code, "port is not part of the key")

	blocked := call("10.1.1.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, strconv.Itoa(60), blocked.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, call("10.2.2.2:5000").Code)

	f.clock.Advance(time.Minute)
	assert.Equal(t, http.StatusNoContent, call("10.1.1.1:5003").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", authgate.ClientIP(req))
	req.RemoteAddr = "192.0.2.1"
	assert.Equal(t, "192.0.2.1", authgate.ClientIP(req))
}
