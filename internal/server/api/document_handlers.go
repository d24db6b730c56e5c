package api

import (
	"mime"
	"net/http"
	"path/filepath"

	"findit/internal/server/service"

	"github.com/labstack/echo/v4"
)

// HandleDocuments handles GET /documents.
func (h *Handler) HandleDocuments(c echo.Context) error {
	return h.renderDocuments(c, http.StatusOK, "")
}

func (h *Handler) renderDocuments(c echo.Context, status int, errMsg string) error {
	list, err := h.svc.Documents.List(c.Request().Context(), userID(c))
	if err != nil {
		return h.pageError(c, err)
	}
	return h.render(c, status, "documents.html", pageData{Title: "My documents", Error: errMsg, Data: list})
}

// HandleUpload handles POST /documents.
// Accepts a multipart form with a "file" field and optional "description".
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.renderDocuments(c, http.StatusBadRequest, "Choose a file to upload.")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return h.renderDocuments(c, http.StatusInternalServerError, "Failed to read the uploaded file.")
	}
	defer src.Close()

	doc, err := h.svc.Documents.Upload(c.Request().Context(), userID(c), service.Upload{
		Filename:    fileHeader.Filename,
		MIMEType:    uploadMIMEType(fileHeader.Header.Get(echo.HeaderContentType), fileHeader.Filename),
		Size:        fileHeader.Size,
		Description: c.FormValue("description"),
		Body:        src,
	})
	if err != nil {
		status, msg := classifyError(err)
		return h.renderDocuments(c, status, msg)
	}

	return redirectWithFlash(c, "/documents", "Uploaded "+doc.OriginalName+".")
}

// uploadMIMEType prefers the browser's type and falls back to the extension.
func uploadMIMEType(declared, filename string) string {
	if declared != "" && declared != echo.MIMEOctetStream {
		return declared
	}
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return declared
}

// HandleDocumentDownload handles GET /documents/:id/download.
func (h *Handler) HandleDocumentDownload(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrDocumentNotFound)
	}

	doc, rc, err := h.svc.Documents.Open(c.Request().Context(), userID(c), id)
	if err != nil {
		return h.pageError(c, err)
	}
	defer rc.Close()

	return attachment(c, "attachment", doc.OriginalName, doc.MIMEType, doc.FileSize, rc)
}

// HandleTrash handles POST /documents/:id/trash.
func (h *Handler) HandleTrash(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrDocumentNotFound)
	}
	d, err := h.svc.Documents.Trash(c.Request().Context(), userID(c), id)
	if err != nil {
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/documents", d.OriginalName+" moved to trash.")
}

// HandleTrashList handles GET /trash.
func (h *Handler) HandleTrashList(c echo.Context) error {
	entries, err := h.svc.Documents.ListTrash(c.Request().Context(), userID(c))
	if err != nil {
		return h.pageError(c, err)
	}
	return h.render(c, http.StatusOK, "trash.html", pageData{Title: "Trash", Data: entries})
}

// HandleRestore handles POST /trash/:id/restore.
func (h *Handler) HandleRestore(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrDocumentNotFound)
	}
	doc, err := h.svc.Documents.Restore(c.Request().Context(), userID(c), id)
	if err != nil {
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/trash", doc.OriginalName+" restored.")
}

// HandlePurge handles POST /trash/:id/purge.
func (h *Handler) HandlePurge(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrDocumentNotFound)
	}
	if err := h.svc.Documents.Purge(c.Request().Context(), userID(c), id); err != nil {
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/trash", "Document permanently deleted.")
}
