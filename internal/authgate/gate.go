// Package authgate authenticates and authorizes inbound HTTP calls.
//
// A call moves through Unauthenticated -> TokenPresented -> Authenticated and
// optionally a role or permission gate; each rejection is terminal.
package authgate

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-auth/internal/observability"
	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/token"
)

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(raw string, kind token.Kind) (token.Payload, error)
}

// KeyFunc derives a throttling key from a request.
type KeyFunc func(r *http.Request) string

// Gate wires token verification, the permission table and the rate limiter
// into HTTP middleware.
type Gate struct {
	verifier Verifier
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New constructs a Gate. limiter may be nil when Throttle is not used.
func New(verifier Verifier, limiter ratelimit.Limiter, logger *slog.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{verifier: verifier, limiter: limiter, logger: logger, metrics: metrics}
}

// BearerToken extracts the token from an `Authorization: Bearer <token>` header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, token.SchemeBearer) {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, " \t") {
		return "", false
	}
	return value, true
}

// Authenticate rejects calls without a valid access token and attaches the
// payload to the request context otherwise.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			g.metrics.ObserveAuth("gate", "missing")
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		payload, err := g.verifier.Verify(raw, token.KindAccess)
		if err != nil {
			g.metrics.ObserveAuth("gate", "invalid")
			g.logger.Debug("authgate reject token", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.RespondError(w, shared.ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), payload)))
	})
}

// Optional attaches the payload when a valid access token is present and
// never rejects the call.
func (g *Gate) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := BearerToken(r); ok {
			if payload, err := g.verifier.Verify(raw, token.KindAccess); err == nil {
				r = r.WithContext(WithPrincipal(r.Context(), payload))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles allows the call only when the principal's role is listed.
// It must run after Authenticate.
func (g *Gate) RequireRoles(roles ...rbac.Role) func(http.Handler) http.Handler {
	allowed := make(map[rbac.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				g.metrics.ObserveAuth("gate", "forbidden")
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission allows the call only when the principal's role grants
// every listed permission. It must run after Authenticate.
func (g *Gate) RequirePermission(perms ...rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			for _, perm := range perms {
				if err := rbac.RequirePermission(p.Role, perm); err != nil {
					g.metrics.ObserveAuth("gate", "forbidden")
					g.logger.Info("authgate forbidden",
						slog.String("subject", p.Subject),
						slog.String("role", string(p.Role)),
						slog.String("permission", string(perm)))
					httpx.RespondError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Throttle counts an attempt against rule before the handler runs. Blocked
// calls receive 429 with Retry-After.
func (g *Gate) Throttle(rule ratelimit.Rule, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.limiter.Check(r.Context(), key(r), rule)
			if err != nil {
				g.logger.Error("authgate rate limit check", slog.String("rule", rule.Name), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if !d.Allowed {
				g.metrics.ObserveRateLimited(rule.Name)
				httpx.RespondError(w, &shared.RateLimitError{Rule: rule.Name, RetryAfter: d.RetryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys throttles by caller address. It expects chi's RealIP
// middleware to have normalized RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
