package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"findit/internal/server/database"
)

// Sentinel errors for the service layer.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("not allowed")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")

	ErrDocumentNotFound = errors.New("document not found")
	ErrMIMENotAllowed   = errors.New("file type not allowed")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrEmptyFile        = errors.New("file is empty")
	ErrQuotaExceeded    = errors.New("storage quota exceeded")

	ErrShareNotFound     = errors.New("share link not found or disabled")
	ErrShareExpired      = errors.New("share link has expired")
	ErrShareLimitReached = errors.New("share link view limit reached")
	ErrPasswordRequired  = errors.New("password required")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrSignInRequired    = errors.New("sign in required")
	ErrFileMissing       = errors.New("file not found")

	ErrItemNotFound   = errors.New("item not found")
	ErrClaimNotFound  = errors.New("claim not found")
	ErrClaimsClosed   = errors.New("this item does not offer a reward")
	ErrDuplicateClaim = errors.New("a claim from this email already exists for this item")

	ErrLocationNotFound    = errors.New("location not found")
	ErrGeocoderUnavailable = errors.New("geocoding service unavailable")
)

// Repo is the persistence the services need. *database.Repository satisfies
// it through FromDatabase.
type Repo interface {
	CreateUser(ctx context.Context, u *database.User) error
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
	GetProfile(ctx context.Context, id int64) (*database.Profile, error)
	UpdateFullName(ctx context.Context, id int64, name string) error
	ReserveStorage(ctx context.Context, userID, size int64) error
	ReleaseStorage(ctx context.Context, userID, size int64) error

	CreateDocument(ctx context.Context, d *database.Document) error
	GetDocument(ctx context.Context, id int64) (*database.Document, error)
	ListDocuments(ctx context.Context, userID int64) ([]*database.Document, error)
	MoveToTrash(ctx context.Context, documentID int64) (*database.DeletedDocument, error)
	GetTrashed(ctx context.Context, id int64) (*database.DeletedDocument, error)
	ListTrash(ctx context.Context, userID int64) ([]*database.DeletedDocument, error)
	ListTrashOlderThan(ctx context.Context, cutoff time.Time) ([]*database.DeletedDocument, error)
	RestoreFromTrash(ctx context.Context, trashID int64) (*database.Document, error)
	PurgeTrashed(ctx context.Context, trashID int64) error

	CreateShare(ctx context.Context, l *database.SharedLink) error
	GetActiveShareByCode(ctx context.Context, code string) (*database.SharedLink, error)
	ListSharesByUser(ctx context.Context, userID int64) ([]*database.SharedLinkWithDocument, error)
	DeactivateShare(ctx context.Context, id, userID int64) error
	IncrementViewCount(ctx context.Context, id int64) error
	IncrementDownloadCount(ctx context.Context, id int64) error

	CreateItem(ctx context.Context, it *database.Item) error
	GetItem(ctx context.Context, id int64) (*database.Item, error)
	GetItemByVerificationCode(ctx context.Context, code string) (*database.Item, error)
	ListItemsByUser(ctx context.Context, userID int64) ([]*database.Item, error)
	SearchPublicItems(ctx context.Context, f database.ItemSearch) ([]*database.Item, error)
	UpdateItemState(ctx context.Context, id int64, status string, isPublic bool, reward float64) error
	SetItemPhotos(ctx context.Context, id int64, photos []string) error

	ClaimExists(ctx context.Context, itemID int64, email string) (bool, error)
	CreateClaim(ctx context.Context, c *database.RewardClaim) error
	GetClaim(ctx context.Context, id int64) (*database.RewardClaim, error)
	ListClaimsForItem(ctx context.Context, itemID int64) ([]*database.RewardClaim, error)
	UpdateClaimStatus(ctx context.Context, id int64, status string) error

	LogActivity(ctx context.Context, a *database.ActivityLog) error
	ListRecentActivity(ctx context.Context, userID int64, limit int) ([]*database.ActivityLog, error)

	// InTx runs fn inside one transaction.
	InTx(ctx context.Context, fn func(tx Repo) error) error
}

type sqlRepo struct {
	*database.Repository
}

// FromDatabase adapts the SQL repository to Repo.
func FromDatabase(r *database.Repository) Repo {
	return sqlRepo{r}
}

func (r sqlRepo) InTx(ctx context.Context, fn func(tx Repo) error) error {
	return r.Repository.WithTx(ctx, func(tx *database.Repository) error {
		return fn(sqlRepo{tx})
	})
}

type clientIPKey struct{}

// WithClientIP attaches the caller's IP for activity logging.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// recordActivity appends an activity entry. Failures are logged only; the
// action itself already happened.
func recordActivity(ctx context.Context, repo Repo, userID int64, action, description string) {
	err := repo.LogActivity(ctx, &database.ActivityLog{
		UserID:      userID,
		Action:      action,
		Description: description,
		IPAddress:   clientIP(ctx),
	})
	if err != nil {
		slog.Error("failed to record activity", "user_id", userID, "action", action, "error", err)
	}
}

// --- Helpers ---

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name, fallback string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	// Take only the base name
	name = filepath.Base(name)

	// Limit length
	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = fallback
	}

	return name
}

// validEmail accepts a bare address such as "ann@example.com".
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s, "@")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
