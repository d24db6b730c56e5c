package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"findit/internal/server/database"
	"findit/internal/server/service"

	"github.com/labstack/echo/v4"
)

type authForm struct {
	Email    string
	FullName string
	Next     string
}

// HandleLoginPage handles GET /login.
func (h *Handler) HandleLoginPage(c echo.Context) error {
	if s := currentSession(c); s != nil && s.IsAuthenticated() {
		return c.Redirect(http.StatusSeeOther, safeNext(c.QueryParam("next")))
	}
	return h.render(c, http.StatusOK, "login.html", pageData{
		Title: "Sign in",
		Data:  authForm{Next: c.QueryParam("next")},
	})
}

// HandleLogin handles POST /login.
func (h *Handler) HandleLogin(c echo.Context) error {
	form := authForm{Email: c.FormValue("email"), Next: c.FormValue("next")}

	u, err := h.svc.Accounts.Authenticate(c.Request().Context(), form.Email, c.FormValue("password"))
	if err != nil {
		status, msg := classifyError(err)
		return h.render(c, status, "login.html", pageData{Title: "Sign in", Error: msg, Data: form})
	}

	if err := h.signIn(c, u); err != nil {
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, safeNext(form.Next), "Welcome back.")
}

// HandleRegisterPage handles GET /register.
func (h *Handler) HandleRegisterPage(c echo.Context) error {
	return h.render(c, http.StatusOK, "register.html", pageData{Title: "Create account", Data: authForm{}})
}

// HandleRegister handles POST /register.
func (h *Handler) HandleRegister(c echo.Context) error {
	form := authForm{Email: c.FormValue("email"), FullName: c.FormValue("full_name")}

	password := c.FormValue("password")
	if password != c.FormValue("confirm_password") {
		return h.render(c, http.StatusBadRequest, "register.html", pageData{
			Title: "Create account", Error: "passwords do not match", Data: form,
		})
	}

	u, err := h.svc.Accounts.Register(c.Request().Context(), form.Email, form.FullName, password)
	if err != nil {
		status, msg := classifyError(err)
		return h.render(c, status, "register.html", pageData{Title: "Create account", Error: msg, Data: form})
	}

	if err := h.signIn(c, u); err != nil {
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/", "Your account is ready.")
}

// signIn swaps the anonymous session for an authenticated one.
func (h *Handler) signIn(c echo.Context, u *database.User) error {
	sess, err := h.sessions.SignIn(currentSession(c), u.ID, u.Role)
	if err != nil {
		return err
	}
	c.Set(sessionKey, sess)
	setSessionCookie(c, sess, h.secureCookies())
	slog.Info("user signed in", "user_id", u.ID)
	return nil
}

// HandleLogout handles POST /logout.
func (h *Handler) HandleLogout(c echo.Context) error {
	if s := currentSession(c); s != nil {
		h.sessions.Destroy(s.ID)
		slog.Info("user signed out", "user_id", s.UserID)
	}
	clearSessionCookie(c, h.secureCookies())
	return c.Redirect(http.StatusSeeOther, "/login")
}

// HandleDashboard handles GET /.
func (h *Handler) HandleDashboard(c echo.Context) error {
	d, err := h.svc.Accounts.Dashboard(c.Request().Context(), userID(c))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// The account vanished under a live session.
			h.sessions.Destroy(currentSession(c).ID)
			return c.Redirect(http.StatusSeeOther, "/login")
		}
		return h.pageError(c, err)
	}
	return h.render(c, http.StatusOK, "dashboard.html", pageData{Title: "Dashboard", Data: d})
}

// HandleUpdateProfile handles POST /profile.
func (h *Handler) HandleUpdateProfile(c echo.Context) error {
	err := h.svc.Accounts.UpdateName(c.Request().Context(), userID(c), c.FormValue("full_name"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			_, msg := classifyError(err)
			return redirectWithFlash(c, "/", msg)
		}
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/", "Profile updated.")
}

func (h *Handler) secureCookies() bool {
	return strings.HasPrefix(h.cfg.BaseURL, "https://")
}
