package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"findit/internal/server/service"
	"findit/internal/server/session"

	"github.com/labstack/echo/v4"
)

const (
	sessionCookie   = "findit_session"
	sessionKey      = "session"
	sessionStartKey = "session_start"
)

// visitor tracks the rate limit state for a single IP.
type visitor struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      float64 // tokens per second
	burst     int     // max tokens
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		rate:      rps,
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", c.Path())
				if wantsJSON(c) {
					return c.JSON(http.StatusTooManyRequests, echo.Map{
						"success": false,
						"error":   "rate limit exceeded, try again later",
					})
				}
				return c.String(http.StatusTooManyRequests, "Too many requests, try again later.")
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > 5*time.Minute {
		rl.sweep(now)
	}

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    float64(rl.burst) - 1,
			lastCheck: now,
		}
		return rl.burst > 0
	}

	// Add tokens based on elapsed time
	elapsed := now.Sub(v.lastCheck).Seconds()
	v.tokens += elapsed * rl.rate
	if v.tokens > float64(rl.burst) {
		v.tokens = float64(rl.burst)
	}
	v.lastCheck = now

	if v.tokens < 1 {
		return false
	}

	v.tokens--
	return true
}

// sweep drops visitors idle for ten minutes. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-10 * time.Minute)
	for ip, v := range rl.visitors {
		if v.lastCheck.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
	rl.lastSweep = now
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			}
			if s := currentSession(c); s != nil && s.IsAuthenticated() {
				attrs = append(attrs, "user_id", s.UserID)
			}
			slog.Info("request", attrs...)

			return nil
		}
	}
}

// SessionLoader attaches the visitor's server-side session when the request
// carries a live session cookie. Anonymous sessions are started on demand by
// ensureSession, so health checks, media fetches and crawlers leave nothing
// behind in the store. The client IP is put on the request context for
// activity logging.
func SessionLoader(store *session.Store, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cookie, err := c.Cookie(sessionCookie); err == nil {
				if sess, err := store.Get(cookie.Value); err == nil {
					c.Set(sessionKey, sess)
				}
			}
			c.Set(sessionStartKey, func() (*session.Session, error) {
				sess, err := store.Create()
				if err != nil {
					return nil, err
				}
				c.Set(sessionKey, sess)
				setSessionCookie(c, sess, secure)
				return sess, nil
			})

			req := c.Request()
			c.SetRequest(req.WithContext(service.WithClientIP(req.Context(), c.RealIP())))
			return next(c)
		}
	}
}

// ensureSession returns the visitor's session, starting an anonymous one if
// the request arrived without.
func ensureSession(c echo.Context) (*session.Session, error) {
	if s := currentSession(c); s != nil {
		return s, nil
	}
	start, ok := c.Get(sessionStartKey).(func() (*session.Session, error))
	if !ok {
		return nil, errors.New("session middleware not installed")
	}
	sess, err := start()
	if err != nil {
		slog.Error("failed to create session", "error", err)
		return nil, err
	}
	return sess, nil
}

func setSessionCookie(c echo.Context, sess *session.Session, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequireUser sends anonymous visitors to the sign-in page, or answers 401
// on JSON endpoints.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s := currentSession(c); s != nil && s.IsAuthenticated() {
				return next(c)
			}
			if wantsJSON(c) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "sign in required"})
			}
			target := "/login"
			if c.Request().Method == http.MethodGet {
				target += "?next=" + url.QueryEscape(c.Request().URL.RequestURI())
			}
			return c.Redirect(http.StatusSeeOther, target)
		}
	}
}

func currentSession(c echo.Context) *session.Session {
	s, _ := c.Get(sessionKey).(*session.Session)
	return s
}

func wantsJSON(c echo.Context) bool {
	req := c.Request()
	return strings.HasPrefix(req.URL.Path, "/api/") ||
		strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}
