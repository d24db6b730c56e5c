package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"findit/internal/server/config"
	"findit/internal/server/database"
	"findit/internal/server/service"
	"findit/internal/server/session"
	"findit/internal/server/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type testServer struct {
	e        *echo.Echo
	mock     sqlmock.Sqlmock
	sessions *session.Store
}

func newTestServer(t *testing.T, health HealthChecker, geocoderURL string, opts ...func(*config.Config)) *testServer {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		BaseURL:             "http://findit.test",
		MaxFileSize:         1 << 20,
		DefaultStorageLimit: 10 << 20,
		AllowedMIMETypes:    []string{"application/pdf", "text/plain"},
		SessionSecret:       "test-secret",
		SessionTTL:          time.Hour,
		ShareViewCounting:   "session",
		GeocoderURL:         geocoderURL,
		RateLimitRPS:        100,
		RateLimitBurst:      100,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := storage.NewFileSystemStore(t.TempDir())
	repo := service.FromDatabase(database.NewRepository(db))
	sessions := session.NewStore(cfg.SessionTTL)

	svc := Services{
		Accounts:  service.NewAccountService(repo, cfg),
		Documents: service.NewDocumentService(repo, store, cfg),
		Shares:    service.NewShareService(repo, store, cfg),
		Items:     service.NewItemService(repo, store),
		Claims:    service.NewClaimService(repo),
		Geocoder:  service.NewGeocoder(geocoderURL),
		Locations: service.NewLocationSigner(cfg.SessionSecret),
	}
	if health == nil {
		health = fakeHealth{}
	}

	e, err := SetupRouter(NewHandler(svc, sessions, health, cfg), cfg, sessions)
	require.NoError(t, err)
	return &testServer{e: e, mock: mock, sessions: sessions}
}

func (ts *testServer) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

// csrf fetches a page to obtain the CSRF cookie; the cookie value doubles as
// the token.
func (ts *testServer) csrf(t *testing.T) *http.Cookie {
	t.Helper()
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	c := findCookie(rec.Result().Cookies(), "_csrf")
	require.NotNil(t, c, "csrf cookie")
	return c
}

func (ts *testServer) signIn(t *testing.T, userID int64) *http.Cookie {
	t.Helper()
	anon, err := ts.sessions.Create()
	require.NoError(t, err)
	sess, err := ts.sessions.SignIn(anon, userID, database.RoleUser)
	require.NoError(t, err)
	return &http.Cookie{Name: sessionCookie, Value: sess.ID}
}

func jsonRequest(method, target, body, token string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("X-CSRF-Token", token)
	}
	return req
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t, fakeHealth{}, "")
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy","database":"connected"}`, rec.Body.String())
		assert.Nil(t, findCookie(rec.Result().Cookies(), sessionCookie))
		assert.Equal(t, 0, ts.sessions.Len(), "health checks must not fill the session store")
	})

	t.Run("database down", func(t *testing.T) {
		ts := newTestServer(t, fakeHealth{err: errors.New("connection refused")}, "")
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "degraded")
	})
}

func TestLoginPage(t *testing.T) {
	ts := newTestServer(t, nil, "")

	t.Run("renders the form with a csrf field", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/login?next=/shares", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `name="_csrf"`)
		assert.Contains(t, body, `value="/shares"`)
	})

	t.Run("signed-in visitors are sent on", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/login?next=/shares", nil), ts.signIn(t, 7))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/shares", rec.Header().Get(echo.HeaderLocation))
	})
}

func TestSignedInPagesRedirectAnonymous(t *testing.T) {
	ts := newTestServer(t, nil, "")
	for _, path := range []string{"/", "/documents", "/trash", "/shares", "/items", "/items/new"} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderLocation), "/login?next="), path)
	}
}

func TestCSRFRejectsForgedPost(t *testing.T) {
	ts := newTestServer(t, nil, "")
	token := ts.csrf(t)

	form := url.Values{"email": {"a@example.com"}, "password": {"secret123"}, "_csrf": {"forged"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	rec := ts.do(req, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, ts.mock.ExpectationsWereMet(), "no query runs before the csrf check")
}

func TestSharePage_UnknownCode(t *testing.T) {
	ts := newTestServer(t, nil, "")
	ts.mock.ExpectQuery(`FROM shared_links WHERE share_code = \$1`).
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/s/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), service.ErrShareNotFound.Error())
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestLookupForm(t *testing.T) {
	ts := newTestServer(t, nil, "")

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/lookup?code=+ab12cd34ef+", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/lookup/ab12cd34ef", rec.Header().Get(echo.HeaderLocation))

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/lookup?code=", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/search", rec.Header().Get(echo.HeaderLocation))
}

func TestHandleGeocode(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Alexanderplatz, Berlin" {
			w.Write([]byte(`[{"lat":"52.5219","lon":"13.4132","display_name":"Alexanderplatz, Mitte, Berlin"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer geo.Close()

	ts := newTestServer(t, nil, geo.URL)
	token := ts.csrf(t)

	t.Run("resolves an address", func(t *testing.T) {
		rec := ts.do(jsonRequest(http.MethodPost, "/api/geocode", `{"address":"Alexanderplatz, Berlin"}`, token.Value), token)
		require.Equal(t, http.StatusOK, rec.Code)

		var res struct {
			Success     bool    `json:"success"`
			Latitude    float64 `json:"latitude"`
			Longitude   float64 `json:"longitude"`
			DisplayName string  `json:"display_name"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.InDelta(t, 52.5219, res.Latitude, 1e-9)
		assert.InDelta(t, 13.4132, res.Longitude, 1e-9)
		assert.Equal(t, "Alexanderplatz, Mitte, Berlin", res.DisplayName)
	})

	t.Run("unknown address", func(t *testing.T) {
		rec := ts.do(jsonRequest(http.MethodPost, "/api/geocode", `{"address":"Nowhere"}`, token.Value), token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":false`)
	})

	t.Run("empty address", func(t *testing.T) {
		rec := ts.do(jsonRequest(http.MethodPost, "/api/geocode", `{"address":"  "}`, token.Value), token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "address is required")
	})
}

func TestHandleSetLocation(t *testing.T) {
	ts := newTestServer(t, nil, "")
	token := ts.csrf(t)

	t.Run("stores a signed cookie that prefills the report form", func(t *testing.T) {
		rec := ts.do(jsonRequest(http.MethodPost, "/api/location",
			`{"latitude":48.8584,"longitude":2.2945,"label":"Eiffel Tower"}`, token.Value), token)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())

		loc := findCookie(rec.Result().Cookies(), locationCookie)
		require.NotNil(t, loc)
		assert.True(t, loc.HttpOnly)
		assert.Equal(t, int(service.LocationTTL.Seconds()), loc.MaxAge)

		page := ts.do(httptest.NewRequest(http.MethodGet, "/items/new", nil), ts.signIn(t, 7), loc)
		require.Equal(t, http.StatusOK, page.Code)
		body := page.Body.String()
		assert.Contains(t, body, `value="48.858400"`)
		assert.Contains(t, body, `value="2.294500"`)
		assert.Contains(t, body, `value="Eiffel Tower"`)
	})

	t.Run("tampered cookie is ignored", func(t *testing.T) {
		bad := &http.Cookie{Name: locationCookie, Value: "not-a-token"}
		page := ts.do(httptest.NewRequest(http.MethodGet, "/items/new", nil), ts.signIn(t, 7), bad)
		require.Equal(t, http.StatusOK, page.Code)
		assert.Contains(t, page.Body.String(), `name="latitude" value=""`)
	})

	t.Run("missing coordinates", func(t *testing.T) {
		rec := ts.do(jsonRequest(http.MethodPost, "/api/location", `{"label":"somewhere"}`, token.Value), token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("out of range", func(t *testing.T) {
		rec := ts.do(jsonRequest(http.MethodPost, "/api/location", `{"latitude":91,"longitude":0}`, token.Value), token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "coordinates out of range")
	})
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrShareExpired, http.StatusGone},
		{service.ErrShareLimitReached, http.StatusGone},
		{service.ErrShareNotFound, http.StatusNotFound},
		{service.ErrPasswordRequired, http.StatusUnauthorized},
		{service.ErrInvalidPassword, http.StatusForbidden},
		{service.ErrQuotaExceeded, http.StatusInsufficientStorage},
		{service.ErrMIMENotAllowed, http.StatusUnsupportedMediaType},
		{service.ErrDuplicateClaim, http.StatusConflict},
		{service.ErrGeocoderUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, msg := classifyError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}

	_, msg := classifyError(errors.New("pq: password authentication failed"))
	assert.NotContains(t, msg, "pq:", "internal errors are not shown")

	_, msg = classifyError(fmt.Errorf("%w: name is required", service.ErrInvalidInput))
	assert.Equal(t, "name is required", msg)
}
