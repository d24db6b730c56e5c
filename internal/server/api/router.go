package api

import (
	"fmt"
	"net/http"

	"findit/internal/server/config"
	"findit/internal/server/session"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// multipartOverhead is added to the upload body limit for form fields and
// part headers.
const multipartOverhead = 64 << 10

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config, sessions *session.Store) (*echo.Echo, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Renderer = renderer

	secure := handler.secureCookies()

	// The CSRF check parses form bodies, so the size cap has to come first.
	bodyLimit := fmt.Sprintf("%dK", (cfg.MaxFileSize+multipartOverhead)/1024)

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(RequestLogger())
	e.Use(SessionLoader(sessions, secure))
	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "header:X-CSRF-Token,form:_csrf",
		CookieName:     "_csrf",
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   secure,
		CookieSameSite: http.SameSiteLaxMode,
	}))

	// Each rate-limited route family keeps its own per-IP buckets.
	authLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	claimLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	geocodeLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Health
	e.GET("/health", handler.HandleHealth)

	// Accounts
	e.GET("/login", handler.HandleLoginPage)
	e.POST("/login", handler.HandleLogin, authLimiter.Middleware())
	e.GET("/register", handler.HandleRegisterPage)
	e.POST("/register", handler.HandleRegister, authLimiter.Middleware())
	e.POST("/logout", handler.HandleLogout)

	// Share links
	e.GET("/s/:code", handler.HandleSharePage)
	e.POST("/s/:code", handler.HandleSharePage, authLimiter.Middleware())
	e.GET("/s/:code/download", handler.HandleShareDownload)

	// Public lost & found
	e.GET("/search", handler.HandleSearch)
	e.GET("/lookup", handler.HandleLookupForm)
	e.GET("/lookup/:code", handler.HandleLookup)
	e.POST("/lookup/:code/claim", handler.HandleSubmitClaim, claimLimiter.Middleware())
	e.GET("/media/items/:id/:idx", handler.HandleItemMedia)

	// Location API
	e.POST("/api/geocode", handler.HandleGeocode, geocodeLimiter.Middleware())
	e.POST("/api/location", handler.HandleSetLocation)

	// Signed-in area
	u := signedIn{e: e, mw: RequireUser()}
	u.GET("/", handler.HandleDashboard)
	u.POST("/profile", handler.HandleUpdateProfile)

	u.GET("/documents", handler.HandleDocuments)
	u.POST("/documents", handler.HandleUpload, uploadLimiter.Middleware())
	u.GET("/documents/:id/download", handler.HandleDocumentDownload)
	u.POST("/documents/:id/trash", handler.HandleTrash)
	u.GET("/trash", handler.HandleTrashList)
	u.POST("/trash/:id/restore", handler.HandleRestore)
	u.POST("/trash/:id/purge", handler.HandlePurge)

	u.GET("/shares", handler.HandleShares)
	u.POST("/shares", handler.HandleCreateShare)
	u.POST("/shares/:id/deactivate", handler.HandleDeactivateShare)

	u.GET("/items", handler.HandleItems)
	u.GET("/items/new", handler.HandleNewItemPage)
	u.POST("/items", handler.HandleCreateItem)
	u.POST("/items/:id/status", handler.HandleItemStatus)
	u.POST("/items/:id/photos", handler.HandleItemPhoto, uploadLimiter.Middleware())
	u.GET("/items/:id/claims", handler.HandleItemClaims)
	u.POST("/claims/:id/decision", handler.HandleClaimDecision)

	return e, nil
}

// signedIn registers routes behind RequireUser. Route-level middleware keeps
// unmatched paths out of the sign-in redirect.
type signedIn struct {
	e  *echo.Echo
	mw echo.MiddlewareFunc
}

func (s signedIn) GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.e.GET(path, h, append([]echo.MiddlewareFunc{s.mw}, m...)...)
}

func (s signedIn) POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.e.POST(path, h, append([]echo.MiddlewareFunc{s.mw}, m...)...)
}
