package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocationTTL is how long a remembered location stays valid.
const LocationTTL = 30 * 24 * time.Hour

var ErrInvalidLocationToken = errors.New("invalid location token")

// Location is the visitor's remembered position, used to prefill the item
// report form.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

type locationClaims struct {
	jwt.RegisteredClaims
	Location
}

// LocationSigner signs and verifies location tokens with HS256.
type LocationSigner struct {
	secret []byte
	now    func() time.Time
}

// NewLocationSigner creates a signer keyed by secret.
func NewLocationSigner(secret string) *LocationSigner {
	return &LocationSigner{secret: []byte(secret), now: time.Now}
}

// Sign validates loc and returns a token plus its expiry.
func (s *LocationSigner) Sign(loc Location) (string, time.Time, error) {
	loc.Label = strings.TrimSpace(loc.Label)
	if !validLatLon(loc.Latitude, loc.Longitude) {
		return "", time.Time{}, invalid("coordinates out of range")
	}
	if len(loc.Label) > 200 {
		return "", time.Time{}, invalid("label is too long")
	}

	now := s.now()
	exp := now.Add(LocationTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, locationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Location: loc,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign location: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a token and returns the location it carries.
func (s *LocationSigner) Parse(tokenString string) (*Location, error) {
	claims := &locationClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidLocationToken
	}
	return &claims.Location, nil
}
