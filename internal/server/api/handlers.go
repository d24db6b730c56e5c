package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"findit/internal/server/config"
	"findit/internal/server/database"
	"findit/internal/server/service"
	"findit/internal/server/session"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HealthChecker reports database reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services bundles what the handlers call into.
type Services struct {
	Accounts  *service.AccountService
	Documents *service.DocumentService
	Shares    *service.ShareService
	Items     *service.ItemService
	Claims    *service.ClaimService
	Geocoder  *service.Geocoder
	Locations *service.LocationSigner
}

// Handler contains the HTTP handlers for findit.
type Handler struct {
	svc      Services
	sessions *session.Store
	db       HealthChecker
	cfg      *config.Config
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc Services, sessions *session.Store, db HealthChecker, cfg *config.Config) *Handler {
	return &Handler{svc: svc, sessions: sessions, db: db, cfg: cfg}
}

// pageData is what every page template receives.
type pageData struct {
	Title    string
	SignedIn bool
	IsAdmin  bool
	CSRF     string
	Flash    string
	Error    string
	BaseURL  string
	Data     any
}

func (h *Handler) render(c echo.Context, status int, page string, pd pageData) error {
	if s := currentSession(c); s != nil {
		pd.SignedIn = s.IsAuthenticated()
		pd.IsAdmin = s.Role == database.RoleAdmin
		if pd.Flash == "" {
			pd.Flash = s.PopFlash()
		}
	}
	if token, ok := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string); ok {
		pd.CSRF = token
	}
	pd.BaseURL = h.cfg.BaseURL
	return c.Render(status, page, pd)
}

// redirectWithFlash stores a notice and sends the browser to target.
func redirectWithFlash(c echo.Context, target, msg string) error {
	if msg != "" {
		if s, err := ensureSession(c); err == nil {
			s.SetFlash(msg)
		}
	}
	return c.Redirect(http.StatusSeeOther, target)
}

func userID(c echo.Context) int64 {
	if s := currentSession(c); s != nil {
		return s.UserID
	}
	return 0
}

func userRole(c echo.Context) string {
	if s := currentSession(c); s != nil {
		return s.Role
	}
	return ""
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s", service.ErrInvalidInput, name)
	}
	return id, nil
}

// classifyError translates service-layer errors into a status and a message
// that is safe to show.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrDuplicateClaim),
		errors.Is(err, service.ErrClaimsClosed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, service.ErrShareNotFound),
		errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, service.ErrClaimNotFound),
		errors.Is(err, service.ErrFileMissing),
		errors.Is(err, service.ErrLocationNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrShareExpired),
		errors.Is(err, service.ErrShareLimitReached):
		return http.StatusGone, err.Error()
	case errors.Is(err, service.ErrPasswordRequired),
		errors.Is(err, service.ErrSignInRequired):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrInvalidPassword),
		errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrMIMENotAllowed):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, service.ErrEmptyFile):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusInsufficientStorage, err.Error()
	case errors.Is(err, service.ErrGeocoderUnavailable):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, database.ErrTableMissing):
		slog.Error("schema misconfigured", "error", err)
		return http.StatusInternalServerError, "Server misconfigured: a required table is missing."
	default:
		slog.Error("unhandled error", "error", err)
		return http.StatusInternalServerError, "Something went wrong. Please try again."
	}
}

// pageError renders the error page for err.
func (h *Handler) pageError(c echo.Context, err error) error {
	status, msg := classifyError(err)
	return h.render(c, status, "error.html", pageData{Title: http.StatusText(status), Error: msg})
}

// jsonError writes the JSON error body for err.
func jsonError(c echo.Context, err error) error {
	status, msg := classifyError(err)
	return c.JSON(status, echo.Map{"success": false, "error": msg})
}

// attachment streams a file download with a safe Content-Disposition.
func attachment(c echo.Context, disposition, filename, contentType string, size int64, body io.Reader) error {
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	h := c.Response().Header()
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType(disposition, map[string]string{"filename": filename}))
	h.Set("X-Content-Type-Options", "nosniff")
	if size > 0 {
		h.Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
	}
	return c.Stream(http.StatusOK, contentType, body)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"
	code := http.StatusOK

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}
