package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const geocodeTimeout = 5 * time.Second

// GeoResult is a resolved address.
type GeoResult struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// Geocoder resolves free-text addresses through a Nominatim-compatible API.
type Geocoder struct {
	baseURL string
	client  *http.Client
}

// NewGeocoder creates a geocoder for baseURL. Each lookup is a single
// attempt bounded by a 5s timeout.
func NewGeocoder(baseURL string) *Geocoder {
	return &Geocoder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: geocodeTimeout},
	}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode returns the best match for address.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*GeoResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, invalid("address is required")
	}
	if len(address) > 500 {
		return nil, invalid("address is too long")
	}

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", "findit/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Error("geocode request failed", "error", err)
		return nil, ErrGeocoderUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("geocoder returned error status", "status", resp.StatusCode)
		return nil, ErrGeocoderUnavailable
	}

	var places []nominatimPlace
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&places); err != nil {
		slog.Error("failed to decode geocode response", "error", err)
		return nil, ErrGeocoderUnavailable
	}
	if len(places) == 0 {
		return nil, ErrLocationNotFound
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(places[0].Lon, 64)
	if err := errors.Join(errLat, errLon); err != nil || !validLatLon(lat, lon) {
		slog.Error("geocoder returned bad coordinates", "lat", places[0].Lat, "lon", places[0].Lon)
		return nil, ErrGeocoderUnavailable
	}

	return &GeoResult{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: places[0].DisplayName,
	}, nil
}
