package database

import "time"

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Share types.
const (
	ShareTypePublic   = "public"
	ShareTypePassword = "password"
	ShareTypePrivate  = "private"
)

// Item statuses.
const (
	StatusLost     = "lost"
	StatusStolen   = "stolen"
	StatusFound    = "found"
	StatusActive   = "active"
	StatusDamaged  = "damaged"
	StatusSold     = "sold"
	StatusArchived = "archived"
)

// Claim statuses.
const (
	ClaimPending  = "pending"
	ClaimApproved = "approved"
	ClaimRejected = "rejected"
)

// User is an account that owns documents, share links and items.
type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	StorageLimit int64
	StorageUsed  int64
	CreatedAt    time.Time
}

// Profile is the display view of a user, resolved through column probing.
type Profile struct {
	ID           int64
	Email        string
	FullName     string
	Role         string
	StorageLimit int64
	StorageUsed  int64
}

// Document is an uploaded file owned by exactly one user.
type Document struct {
	ID           int64
	UserID       int64
	StoredName   string
	OriginalName string
	FilePath     string // storage key, relative to the storage root
	MIMEType     string
	FileSize     int64
	Description  string
	CreatedAt    time.Time
}

// DeletedDocument is a document sitting in the trash.
type DeletedDocument struct {
	Document
	OriginalID int64
	DeletedAt  time.Time
}

// SharedLink exposes one document through an opaque share code.
type SharedLink struct {
	ID            int64
	DocumentID    int64
	CreatedBy     int64
	ShareCode     string
	ShareType     string
	PasswordHash  *string // nil when no password set
	ExpiresAt     *time.Time
	MaxViews      int // 0 means unlimited
	ViewCount     int
	DownloadCount int
	LastAccessed  *time.Time
	IsActive      bool
	CreatedAt     time.Time
}

// IsExpired reports whether the link has an expiry that lies before now.
func (l *SharedLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// LimitReached reports whether the view limit is used up.
func (l *SharedLink) LimitReached() bool {
	return l.MaxViews > 0 && l.ViewCount >= l.MaxViews
}

// RequiresPassword reports whether viewers must present the share password.
func (l *SharedLink) RequiresPassword() bool {
	return l.ShareType == ShareTypePassword && l.PasswordHash != nil && *l.PasswordHash != ""
}

// SharedLinkWithDocument is a link joined with its document for listings.
type SharedLinkWithDocument struct {
	SharedLink
	DocumentName string
}

// Item is a lost-and-found record.
type Item struct {
	ID                  int64
	UserID              int64
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
	ReportedAt          time.Time
	FoundAt             *time.Time
	ContactEmail        string
	ContactPhone        string
	VerificationCode    string
	Photos              []string // storage keys
	QRPath              *string
	CreatedAt           time.Time
}

// RewardClaim is a finder's claim on an item's reward.
type RewardClaim struct {
	ID               int64
	ItemID           int64
	ClaimerName      string
	ClaimerEmail     string
	ClaimerPhone     string
	Message          string
	ProofDescription string
	Status           string
	CreatedAt        time.Time
}

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID          int64
	UserID      int64
	Action      string
	Description string
	IPAddress   string
	CreatedAt   time.Time
}

// ItemSearch filters the public item search.
type ItemSearch struct {
	Query    string
	Category string
	Limit    int
}
