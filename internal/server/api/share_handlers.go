package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"findit/internal/server/database"
	"findit/internal/server/service"

	"github.com/labstack/echo/v4"
)

type sharesPage struct {
	Links     []*database.SharedLinkWithDocument
	Documents []*database.Document
}

type sharePage struct {
	Code         string
	Access       *service.ShareAccess
	NeedPassword bool
}

// HandleShares handles GET /shares.
func (h *Handler) HandleShares(c echo.Context) error {
	return h.renderShares(c, http.StatusOK, "")
}

func (h *Handler) renderShares(c echo.Context, status int, errMsg string) error {
	ctx := c.Request().Context()
	links, err := h.svc.Shares.List(ctx, userID(c))
	if err != nil {
		return h.pageError(c, err)
	}
	docs, err := h.svc.Documents.List(ctx, userID(c))
	if err != nil {
		return h.pageError(c, err)
	}
	return h.render(c, status, "shares.html", pageData{
		Title: "Share links",
		Error: errMsg,
		Data:  sharesPage{Links: links, Documents: docs.Documents},
	})
}

// HandleCreateShare handles POST /shares.
func (h *Handler) HandleCreateShare(c echo.Context) error {
	docID, err := strconv.ParseInt(c.FormValue("document_id"), 10, 64)
	if err != nil {
		return h.renderShares(c, http.StatusBadRequest, "Choose a document to share.")
	}
	hours, errHours := formInt(c, "expires_hours")
	views, errViews := formInt(c, "max_views")
	if errHours != nil || errViews != nil {
		return h.renderShares(c, http.StatusBadRequest, "Expiry and view limit must be whole numbers.")
	}

	link, err := h.svc.Shares.Create(c.Request().Context(), userID(c), service.ShareRequest{
		DocumentID:     docID,
		ShareType:      c.FormValue("share_type"),
		Password:       c.FormValue("password"),
		ExpiresInHours: hours,
		MaxViews:       views,
	})
	if err != nil {
		status, msg := classifyError(err)
		return h.renderShares(c, status, msg)
	}

	return redirectWithFlash(c, "/shares", "Share link created: "+h.svc.Shares.ShareURL(link.ShareCode))
}

// HandleDeactivateShare handles POST /shares/:id/deactivate.
func (h *Handler) HandleDeactivateShare(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrShareNotFound)
	}
	if err := h.svc.Shares.Deactivate(c.Request().Context(), userID(c), id); err != nil {
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/shares", "Share link deactivated.")
}

// HandleSharePage handles GET and POST /s/:code. POST carries the password
// prompt.
func (h *Handler) HandleSharePage(c echo.Context) error {
	code := c.Param("code")
	password := ""
	if c.Request().Method == http.MethodPost {
		password = c.FormValue("password")
	}

	sess, err := ensureSession(c)
	if err != nil {
		return h.pageError(c, err)
	}
	access, err := h.svc.Shares.Open(c.Request().Context(), code, password, sess)
	if err != nil {
		return h.shareError(c, code, err)
	}

	return h.render(c, http.StatusOK, "share.html", pageData{
		Title: access.Document.OriginalName,
		Data:  sharePage{Code: code, Access: access},
	})
}

// HandleShareDownload handles GET /s/:code/download.
func (h *Handler) HandleShareDownload(c echo.Context) error {
	code := c.Param("code")

	sess, err := ensureSession(c)
	if err != nil {
		return h.pageError(c, err)
	}
	dl, err := h.svc.Shares.Download(c.Request().Context(), code, sess)
	if err != nil {
		if errors.Is(err, service.ErrPasswordRequired) {
			return c.Redirect(http.StatusSeeOther, "/s/"+url.PathEscape(code))
		}
		return h.shareError(c, code, err)
	}
	defer dl.Body.Close()

	return attachment(c, "attachment", dl.Filename, dl.MIMEType, dl.Size, dl.Body)
}

// shareError renders the password prompt, the sign-in redirect or a plain
// error page.
func (h *Handler) shareError(c echo.Context, code string, err error) error {
	status, msg := classifyError(err)
	switch {
	case errors.Is(err, service.ErrPasswordRequired):
		return h.render(c, status, "share.html", pageData{
			Title: "Password required",
			Data:  sharePage{Code: code, NeedPassword: true},
		})
	case errors.Is(err, service.ErrInvalidPassword):
		return h.render(c, status, "share.html", pageData{
			Title: "Password required",
			Error: "Incorrect password.",
			Data:  sharePage{Code: code, NeedPassword: true},
		})
	case errors.Is(err, service.ErrSignInRequired):
		return c.Redirect(http.StatusSeeOther, "/login?next="+url.QueryEscape("/s/"+code))
	default:
		return h.render(c, status, "error.html", pageData{Title: http.StatusText(status), Error: msg})
	}
}

func formInt(c echo.Context, name string) (int, error) {
	v := strings.TrimSpace(c.FormValue(name))
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
