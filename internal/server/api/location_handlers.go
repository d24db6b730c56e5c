package api

import (
	"net/http"

	"findit/internal/server/service"

	"github.com/labstack/echo/v4"
)

type geocodeRequest struct {
	Address string `json:"address" form:"address"`
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" form:"latitude"`
	Longitude *float64 `json:"longitude" form:"longitude"`
	Label     string   `json:"label" form:"label"`
}

// HandleGeocode handles POST /api/geocode.
func (h *Handler) HandleGeocode(c echo.Context) error {
	var req geocodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request body"})
	}

	res, err := h.svc.Geocoder.Geocode(c.Request().Context(), req.Address)
	if err != nil {
		return jsonError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"latitude":     res.Latitude,
		"longitude":    res.Longitude,
		"display_name": res.DisplayName,
	})
}

// HandleSetLocation handles POST /api/location. The location is kept in a
// signed cookie, not in the database.
func (h *Handler) HandleSetLocation(c echo.Context) error {
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request body"})
	}
	if req.Latitude == nil || req.Longitude == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "latitude and longitude are required"})
	}

	token, exp, err := h.svc.Locations.Sign(service.Location{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Label:     req.Label,
	})
	if err != nil {
		return jsonError(c, err)
	}

	c.SetCookie(&http.Cookie{
		Name:     locationCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(service.LocationTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
