package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"findit/internal/server/database"
	"findit/internal/server/service"

	"github.com/labstack/echo/v4"
)

const locationCookie = "findit_location"

type itemFormPage struct {
	Report    service.ItemReport
	Latitude  string
	Longitude string
}

type claimsPage struct {
	Item   *database.Item
	Claims []*database.RewardClaim
}

type searchPage struct {
	Query    string
	Category string
	Items    []*database.Item
}

type lookupPage struct {
	Item      *database.Item
	Claim     service.ClaimRequest
	Submitted bool
}

// HandleItems handles GET /items.
func (h *Handler) HandleItems(c echo.Context) error {
	items, err := h.svc.Items.ListMine(c.Request().Context(), userID(c))
	if err != nil {
		return h.pageError(c, err)
	}
	return h.render(c, http.StatusOK, "items.html", pageData{Title: "My items", Data: items})
}

// HandleNewItemPage handles GET /items/new. The remembered location, if
// any, prefills the coordinates.
func (h *Handler) HandleNewItemPage(c echo.Context) error {
	page := itemFormPage{Report: service.ItemReport{Status: database.StatusLost}}
	if loc := h.rememberedLocation(c); loc != nil {
		page.Latitude = strconv.FormatFloat(loc.Latitude, 'f', 6, 64)
		page.Longitude = strconv.FormatFloat(loc.Longitude, 'f', 6, 64)
		page.Report.IncidentLocation = loc.Label
	}
	return h.render(c, http.StatusOK, "item_new.html", pageData{Title: "Report an item", Data: page})
}

// HandleCreateItem handles POST /items.
func (h *Handler) HandleCreateItem(c echo.Context) error {
	report := service.ItemReport{
		Name:                c.FormValue("name"),
		Brand:               c.FormValue("brand"),
		Model:               c.FormValue("model"),
		SerialNumber:        c.FormValue("serial_number"),
		Category:            c.FormValue("category"),
		Description:         c.FormValue("description"),
		Status:              c.FormValue("status"),
		IsPublic:            c.FormValue("is_public") != "",
		IncidentLocation:    c.FormValue("incident_location"),
		IncidentDescription: c.FormValue("incident_description"),
		ContactEmail:        c.FormValue("contact_email"),
		ContactPhone:        c.FormValue("contact_phone"),
	}

	var err error
	if report.RewardAmount, err = formFloat(c, "reward_amount"); err != nil {
		return h.renderItemForm(c, report, "Reward must be a number.")
	}
	if report.Latitude, err = formFloatPtr(c, "latitude"); err != nil {
		return h.renderItemForm(c, report, "Latitude must be a number.")
	}
	if report.Longitude, err = formFloatPtr(c, "longitude"); err != nil {
		return h.renderItemForm(c, report, "Longitude must be a number.")
	}

	it, err := h.svc.Items.Report(c.Request().Context(), userID(c), report)
	if err != nil {
		_, msg := classifyError(err)
		return h.renderItemForm(c, report, msg)
	}
	return redirectWithFlash(c, "/items", "Reported "+it.Name+". Tag code: "+it.VerificationCode)
}

func (h *Handler) renderItemForm(c echo.Context, report service.ItemReport, errMsg string) error {
	return h.render(c, http.StatusBadRequest, "item_new.html", pageData{
		Title: "Report an item",
		Error: errMsg,
		Data: itemFormPage{
			Report:    report,
			Latitude:  c.FormValue("latitude"),
			Longitude: c.FormValue("longitude"),
		},
	})
}

// HandleItemStatus handles POST /items/:id/status.
func (h *Handler) HandleItemStatus(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrItemNotFound)
	}
	reward, err := formFloat(c, "reward_amount")
	if err != nil {
		return redirectWithFlash(c, "/items", "Reward must be a number.")
	}

	it, err := h.svc.Items.UpdateState(c.Request().Context(), userID(c), userRole(c), id,
		c.FormValue("status"), c.FormValue("is_public") != "", reward)
	if err != nil {
		status, msg := classifyError(err)
		if status == http.StatusBadRequest {
			return redirectWithFlash(c, "/items", msg)
		}
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/items", it.Name+" updated.")
}

// HandleItemPhoto handles POST /items/:id/photos.
func (h *Handler) HandleItemPhoto(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrItemNotFound)
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		return redirectWithFlash(c, "/items", "Choose a photo to upload.")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return h.pageError(c, err)
	}
	defer src.Close()

	_, err = h.svc.Items.AddPhoto(c.Request().Context(), userID(c), id, service.Photo{
		Filename: fileHeader.Filename,
		MIMEType: uploadMIMEType(fileHeader.Header.Get(echo.HeaderContentType), fileHeader.Filename),
		Size:     fileHeader.Size,
		Body:     src,
	})
	if err != nil {
		status, msg := classifyError(err)
		if status < http.StatusInternalServerError && status != http.StatusNotFound {
			return redirectWithFlash(c, "/items", msg)
		}
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/items", "Photo added.")
}

// HandleItemClaims handles GET /items/:id/claims.
func (h *Handler) HandleItemClaims(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrItemNotFound)
	}
	it, claims, err := h.svc.Claims.ListForItem(c.Request().Context(), userID(c), id)
	if err != nil {
		return h.pageError(c, err)
	}
	return h.render(c, http.StatusOK, "claims.html", pageData{
		Title: "Claims for " + it.Name,
		Data:  claimsPage{Item: it, Claims: claims},
	})
}

// HandleClaimDecision handles POST /claims/:id/decision.
func (h *Handler) HandleClaimDecision(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.pageError(c, service.ErrClaimNotFound)
	}

	var approve bool
	switch c.FormValue("decision") {
	case "approve":
		approve = true
	case "reject":
	default:
		return h.pageError(c, service.ErrInvalidInput)
	}

	claim, err := h.svc.Claims.Decide(c.Request().Context(), userID(c), id, approve)
	if err != nil {
		return h.pageError(c, err)
	}
	return redirectWithFlash(c, "/items/"+strconv.FormatInt(claim.ItemID, 10)+"/claims",
		"Claim by "+claim.ClaimerName+" "+claim.Status+".")
}

// HandleSearch handles GET /search.
func (h *Handler) HandleSearch(c echo.Context) error {
	page := searchPage{Query: c.QueryParam("q"), Category: c.QueryParam("category")}

	items, err := h.svc.Items.Search(c.Request().Context(), page.Query, page.Category)
	if err != nil {
		return h.pageError(c, err)
	}
	page.Items = items
	return h.render(c, http.StatusOK, "search.html", pageData{Title: "Lost & found", Data: page})
}

// HandleLookupForm handles GET /lookup?code=..., the manual entry for a tag code.
func (h *Handler) HandleLookupForm(c echo.Context) error {
	code := strings.TrimSpace(c.QueryParam("code"))
	if code == "" {
		return c.Redirect(http.StatusSeeOther, "/search")
	}
	return c.Redirect(http.StatusSeeOther, "/lookup/"+url.PathEscape(code))
}

// HandleLookup handles GET /lookup/:code, the target of an item's QR tag.
func (h *Handler) HandleLookup(c echo.Context) error {
	it, err := h.svc.Items.Lookup(c.Request().Context(), c.Param("code"))
	if err != nil {
		return h.pageError(c, err)
	}
	return h.render(c, http.StatusOK, "lookup.html", pageData{Title: it.Name, Data: lookupPage{Item: it}})
}

// HandleSubmitClaim handles POST /lookup/:code/claim.
func (h *Handler) HandleSubmitClaim(c echo.Context) error {
	ctx := c.Request().Context()
	code := c.Param("code")

	it, err := h.svc.Items.Lookup(ctx, code)
	if err != nil {
		return h.pageError(c, err)
	}

	req := service.ClaimRequest{
		Name:             c.FormValue("name"),
		Email:            c.FormValue("email"),
		Phone:            c.FormValue("phone"),
		Message:          c.FormValue("message"),
		ProofDescription: c.FormValue("proof_description"),
	}
	if _, err := h.svc.Claims.Submit(ctx, code, req); err != nil {
		status, msg := classifyError(err)
		if status == http.StatusInternalServerError {
			return h.pageError(c, err)
		}
		return h.render(c, status, "lookup.html", pageData{
			Title: it.Name,
			Error: msg,
			Data:  lookupPage{Item: it, Claim: req},
		})
	}

	return h.render(c, http.StatusCreated, "lookup.html", pageData{
		Title: it.Name,
		Flash: "Thank you. The owner has been notified of your claim.",
		Data:  lookupPage{Item: it, Submitted: true},
	})
}

// HandleItemMedia handles GET /media/items/:id/:idx.
func (h *Handler) HandleItemMedia(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	rc, contentType, err := h.svc.Items.OpenPhoto(c.Request().Context(), userID(c), id, idx)
	if err != nil {
		status, _ := classifyError(err)
		return echo.NewHTTPError(status)
	}
	defer rc.Close()

	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	c.Response().Header().Set("X-Content-Type-Options", "nosniff")
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) rememberedLocation(c echo.Context) *service.Location {
	cookie, err := c.Cookie(locationCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	loc, err := h.svc.Locations.Parse(cookie.Value)
	if err != nil {
		return nil
	}
	return loc
}

func formFloat(c echo.Context, name string) (float64, error) {
	v := strings.TrimSpace(c.FormValue(name))
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func formFloatPtr(c echo.Context, name string) (*float64, error) {
	v := strings.TrimSpace(c.FormValue(name))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
