package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"path"
	"strings"

	"findit/internal/server/database"
	"findit/internal/server/storage"

	"github.com/google/uuid"
)

const (
	maxPhotosPerItem = 10
	maxPhotoSize     = 10 << 20
	maxReward        = 99999999.99
	searchLimit      = 50
	verificationLen  = 10
)

var validStatuses = map[string]bool{
	database.StatusLost:     true,
	database.StatusStolen:   true,
	database.StatusFound:    true,
	database.StatusActive:   true,
	database.StatusDamaged:  true,
	database.StatusSold:     true,
	database.StatusArchived: true,
}

var photoTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ValidStatus reports whether s is one of the item statuses.
func ValidStatus(s string) bool {
	return validStatuses[s]
}

// IsPubliclyListed reports whether the item shows up in public search.
func IsPubliclyListed(it *database.Item) bool {
	return it.IsPublic && (it.Status == database.StatusLost || it.Status == database.StatusStolen)
}

// HasReward reports whether a reward is displayed for the item.
func HasReward(it *database.Item) bool {
	return it.RewardAmount > 0
}

// AcceptsClaims reports whether finders may claim the item's reward.
func AcceptsClaims(it *database.Item) bool {
	return HasReward(it)
}

// ItemReport is the owner's input when reporting an item.
type ItemReport struct {
	Name                string
	Brand               string
	Model               string
	SerialNumber        string
	Category            string
	Description         string
	Status              string
	IsPublic            bool
	RewardAmount        float64
	IncidentLocation    string
	IncidentDescription string
	Latitude            *float64
	Longitude           *float64
	ContactEmail        string
	ContactPhone        string
}

// Photo is an uploaded item image.
type Photo struct {
	Filename string
	MIMEType string
	Size     int64
	Body     io.Reader
}

// ItemService manages lost-and-found items.
type ItemService struct {
	repo  Repo
	store storage.Store
}

// NewItemService creates a new item service.
func NewItemService(repo Repo, store storage.Store) *ItemService {
	return &ItemService{repo: repo, store: store}
}

// Report records a new item for userID and assigns its verification code.
func (s *ItemService) Report(ctx context.Context, userID int64, r ItemReport) (*database.Item, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.ContactEmail = strings.TrimSpace(r.ContactEmail)
	if r.Status == "" {
		r.Status = database.StatusLost
	}

	switch {
	case r.Name == "":
		return nil, invalid("item name is required")
	case !ValidStatus(r.Status):
		return nil, invalid("unknown status %q", r.Status)
	case r.ContactEmail != "" && !validEmail(r.ContactEmail):
		return nil, invalid("contact email is not valid")
	}
	if err := checkReward(r.RewardAmount); err != nil {
		return nil, err
	}
	if err := checkCoordinates(r.Latitude, r.Longitude); err != nil {
		return nil, err
	}

	code, err := generateSecureToken(verificationLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}

	it := &database.Item{
		UserID:              userID,
		Name:                r.Name,
		Brand:               strings.TrimSpace(r.Brand),
		Model:               strings.TrimSpace(r.Model),
		SerialNumber:        strings.TrimSpace(r.SerialNumber),
		Category:            strings.TrimSpace(r.Category),
		Description:         strings.TrimSpace(r.Description),
		Status:              r.Status,
		IsPublic:            r.IsPublic,
		RewardAmount:        roundCents(r.RewardAmount),
		IncidentLocation:    strings.TrimSpace(r.IncidentLocation),
		IncidentDescription: strings.TrimSpace(r.IncidentDescription),
		Latitude:            r.Latitude,
		Longitude:           r.Longitude,
		ContactEmail:        r.ContactEmail,
		ContactPhone:        strings.TrimSpace(r.ContactPhone),
		VerificationCode:    strings.ToUpper(code),
	}
	if err := s.repo.CreateItem(ctx, it); err != nil {
		return nil, err
	}

	slog.Info("item reported", "item_id", it.ID, "status", it.Status, "public", it.IsPublic)
	recordActivity(ctx, s.repo, userID, "item_report", fmt.Sprintf("Reported %s as %s", it.Name, it.Status))
	return it, nil
}

// Get returns an item visible to the viewer: its owner or an admin.
func (s *ItemService) Get(ctx context.Context, viewerID int64, viewerRole string, itemID int64) (*database.Item, error) {
	it, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	if it.UserID != viewerID && viewerRole != database.RoleAdmin {
		return nil, ErrItemNotFound
	}
	return it, nil
}

// ListMine returns the user's items.
func (s *ItemService) ListMine(ctx context.Context, userID int64) ([]*database.Item, error) {
	return s.repo.ListItemsByUser(ctx, userID)
}

// UpdateState changes status, visibility and reward. Only the owner or an
// admin may do so.
func (s *ItemService) UpdateState(ctx context.Context, actorID int64, actorRole string, itemID int64, status string, isPublic bool, reward float64) (*database.Item, error) {
	it, err := s.Get(ctx, actorID, actorRole, itemID)
	if err != nil {
		return nil, err
	}
	if !ValidStatus(status) {
		return nil, invalid("unknown status %q", status)
	}
	if err := checkReward(reward); err != nil {
		return nil, err
	}

	reward = roundCents(reward)
	if err := s.repo.UpdateItemState(ctx, it.ID, status, isPublic, reward); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	prev := it.Status
	it.Status, it.IsPublic, it.RewardAmount = status, isPublic, reward

	slog.Info("item state changed", "item_id", it.ID, "from", prev, "to", status, "public", isPublic)
	recordActivity(ctx, s.repo, actorID, "item_status", fmt.Sprintf("%s changed from %s to %s", it.Name, prev, status))
	return it, nil
}

// Search lists public lost or stolen items, rewarded ones first.
func (s *ItemService) Search(ctx context.Context, query, category string) ([]*database.Item, error) {
	items, err := s.repo.SearchPublicItems(ctx, database.ItemSearch{
		Query:    strings.TrimSpace(query),
		Category: strings.TrimSpace(category),
		Limit:    searchLimit,
	})
	if err != nil {
		return nil, err
	}

	listed := items[:0]
	for _, it := range items {
		if IsPubliclyListed(it) {
			listed = append(listed, it)
		}
	}
	return listed, nil
}

// Lookup finds an item by the verification code printed on its QR tag.
func (s *ItemService) Lookup(ctx context.Context, code string) (*database.Item, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrItemNotFound
	}
	it, err := s.repo.GetItemByVerificationCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return it, nil
}

// AddPhoto stores an image for the owner's item.
func (s *ItemService) AddPhoto(ctx context.Context, userID, itemID int64, p Photo) (*database.Item, error) {
	it, err := s.Get(ctx, userID, "", itemID)
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(p.MIMEType)
	ext, ok := photoTypes[strings.ToLower(mediaType)]
	switch {
	case !ok:
		return nil, ErrMIMENotAllowed
	case p.Size <= 0:
		return nil, ErrEmptyFile
	case p.Size > maxPhotoSize:
		return nil, ErrFileTooLarge
	case len(it.Photos) >= maxPhotosPerItem:
		return nil, invalid("an item can have at most %d photos", maxPhotosPerItem)
	}

	key := fmt.Sprintf("items/%d/%s%s", it.ID, uuid.NewString(), ext)
	n, err := s.store.Save(ctx, key, io.LimitReader(p.Body, maxPhotoSize+1))
	if err != nil {
		s.store.Delete(ctx, key)
		return nil, fmt.Errorf("failed to store photo: %w", err)
	}
	if n > maxPhotoSize {
		s.store.Delete(ctx, key)
		return nil, ErrFileTooLarge
	}

	photos := append(append([]string(nil), it.Photos...), key)
	if err := s.repo.SetItemPhotos(ctx, it.ID, photos); err != nil {
		s.store.Delete(ctx, key)
		return nil, err
	}
	it.Photos = photos

	slog.Info("item photo added", "item_id", it.ID, "key", key, "size", n)
	return it, nil
}

// OpenPhoto opens the idx-th photo of an item. Photos of items that are not
// publicly listed are served to their owner only.
func (s *ItemService) OpenPhoto(ctx context.Context, viewerID, itemID int64, idx int) (io.ReadCloser, string, error) {
	it, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, "", ErrItemNotFound
		}
		return nil, "", err
	}
	if !IsPubliclyListed(it) && it.UserID != viewerID {
		return nil, "", ErrItemNotFound
	}
	if idx < 0 || idx >= len(it.Photos) {
		return nil, "", ErrFileMissing
	}

	key := it.Photos[idx]
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrFileMissing
		}
		return nil, "", err
	}

	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return rc, ct, nil
}

func checkReward(v float64) error {
	if math.IsNaN(v) || v < 0 || v > maxReward {
		return invalid("reward must be between 0 and %.2f", maxReward)
	}
	return nil
}

func checkCoordinates(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return invalid("latitude and longitude go together")
	}
	if lat != nil && !validLatLon(*lat, *lon) {
		return invalid("coordinates out of range")
	}
	return nil
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
