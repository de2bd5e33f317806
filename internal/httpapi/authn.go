package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/ratelimit"
)

const (
	apiKeyHeader     = "x-firm-api-key"
	adminKeyHeader   = "x-internal-admin-key"
	cleanupKeyHeader = "x-cleanup-key"

	cookieSession = "session"
	cookieFirm    = "firm_id"
	cookieUser    = "user_id"
)

type decisionKey struct{}

func decisionFromContext(ctx context.Context) (ratelimit.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(ratelimit.Decision)
	return d, ok
}

// requireAPIKey resolves x-firm-api-key and enforces scope before next.
// Rejected keys are counted per IP; once that bucket is full the caller gets
// 429 without a key lookup.
func (a *API) requireAPIKey(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			failures := ratelimit.IPIdentity(ip)
			if d := a.deps.Limiter.Peek(r.Context(), failures, ratelimit.ClassKeyFailures); !d.Allowed {
				setRateHeaders(w, d)
				writeAppError(w, r, apperr.Limited("Too many requests. Please try again later.", d.RetryAfter))
				return
			}
			caller, err := a.deps.Auth.ValidateAPIKey(r.Context(), r.Header.Get(apiKeyHeader), ip)
			if err != nil {
				if k := apperr.KindOf(err); k == apperr.MissingCredential || k == apperr.InvalidCredential {
					a.deps.Limiter.Check(r.Context(), failures, ratelimit.ClassKeyFailures)
				}
				writeAppError(w, r, err)
				return
			}
			if err := auth.Enforce(caller.Scopes, scope); err != nil {
				writeAppError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithCaller(r.Context(), caller)))
		})
	}
}

func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.deps.Auth.AuthenticateSession(r.Context(),
			cookieValue(r, cookieSession), cookieValue(r, cookieFirm), cookieValue(r, cookieUser))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), u)))
	})
}

// requireSecret guards internal endpoints with a shared secret header.
func requireSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, r, http.StatusServiceUnavailable, "Endpoint disabled")
				return
			}
			got := r.Header.Get(header)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// identityFunc picks the rate limit identity for a request.
type identityFunc func(*http.Request) string

func byIP(r *http.Request) string { return ratelimit.IPIdentity(clientIP(r)) }

func byKey(r *http.Request) string {
	if c, ok := auth.CallerFromContext(r.Context()); ok {
		return ratelimit.KeyIdentity(c.KeyID)
	}
	return byIP(r)
}

func byUser(r *http.Request) string {
	if u, ok := auth.SessionFromContext(r.Context()); ok {
		return ratelimit.UserIdentity(u.UserID)
	}
	return byIP(r)
}

// limit counts the request against class and sets X-RateLimit-* headers.
func (a *API) limit(class ratelimit.Class, identity identityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := a.deps.Limiter.Check(r.Context(), identity(r), class)
			if d.Limit > 0 {
				setRateHeaders(w, d)
			}
			if !d.Allowed {
				writeAppError(w, r, apperr.Limited("Too many requests. Please try again later.", d.RetryAfter))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *API) setSessionCookies(w http.ResponseWriter, res auth.SignInResult) {
	maxAge := int(a.deps.Auth.SessionTTL().Seconds())
	values := map[string]string{
		cookieSession: res.Token,
		cookieFirm:    res.Session.FirmID,
		cookieUser:    res.Session.UserID,
	}
	for _, name := range []string{cookieSession, cookieFirm, cookieUser} {
		http.SetCookie(w, a.cookie(name, values[name], maxAge))
	}
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieSession, cookieFirm, cookieUser} {
		http.SetCookie(w, a.cookie(name, "", -1))
	}
}

func (a *API) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
