package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"findit/internal/server/config"
	"findit/internal/server/database"
	"findit/internal/server/session"
	"findit/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

const shareCodeLength = 12

var errNoSession = errors.New("share access needs a visitor session")

// ShareRequest is the owner's input for a new link.
type ShareRequest struct {
	DocumentID     int64
	ShareType      string
	Password       string
	ExpiresInHours int // 0 means never
	MaxViews       int // 0 means unlimited
}

// ShareAccess is what a visitor who passed the gate may see.
type ShareAccess struct {
	Link     *database.SharedLink
	Document *database.Document
	Owner    bool
}

// ShareDownload is an open file behind a share link. The caller closes Body.
type ShareDownload struct {
	Body     io.ReadCloser
	Filename string
	MIMEType string
	Size     int64
}

// ShareService creates share links and decides who may open them.
type ShareService struct {
	repo  Repo
	store storage.Store
	cfg   *config.Config
	now   func() time.Time
}

// NewShareService creates a new share service.
func NewShareService(repo Repo, store storage.Store, cfg *config.Config) *ShareService {
	return &ShareService{repo: repo, store: store, cfg: cfg, now: time.Now}
}

// Create issues a share link for a document owned by userID.
func (s *ShareService) Create(ctx context.Context, userID int64, req ShareRequest) (*database.SharedLink, error) {
	doc, err := s.repo.GetDocument(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}

	link := &database.SharedLink{
		DocumentID: doc.ID,
		CreatedBy:  userID,
		ShareType:  req.ShareType,
		MaxViews:   req.MaxViews,
	}

	switch req.ShareType {
	case database.ShareTypePublic, database.ShareTypePrivate:
	case database.ShareTypePassword:
		if len(req.Password) < 4 {
			return nil, invalid("password links need a password of at least 4 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		h := string(hash)
		link.PasswordHash = &h
	default:
		return nil, invalid("unknown share type %q", req.ShareType)
	}

	if req.ExpiresInHours < 0 {
		return nil, invalid("expiry must not be negative")
	}
	if req.MaxViews < 0 {
		return nil, invalid("view limit must not be negative")
	}
	if req.ExpiresInHours > 0 {
		exp := s.now().UTC().Add(time.Duration(req.ExpiresInHours) * time.Hour)
		link.ExpiresAt = &exp
	}

	link.ShareCode, err = generateSecureToken(shareCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate share code: %w", err)
	}

	if err := s.repo.CreateShare(ctx, link); err != nil {
		return nil, err
	}

	slog.Info("share link created",
		"share_code", link.ShareCode,
		"document_id", doc.ID,
		"share_type", link.ShareType,
	)
	recordActivity(ctx, s.repo, userID, "share_create", "Shared "+doc.OriginalName)
	return link, nil
}

// List returns the user's links with their counters.
func (s *ShareService) List(ctx context.Context, userID int64) ([]*database.SharedLinkWithDocument, error) {
	return s.repo.ListSharesByUser(ctx, userID)
}

// Deactivate disables one of the user's links.
func (s *ShareService) Deactivate(ctx context.Context, userID, linkID int64) error {
	if err := s.repo.DeactivateShare(ctx, linkID, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrShareNotFound
		}
		return err
	}
	slog.Info("share link deactivated", "share_id", linkID)
	recordActivity(ctx, s.repo, userID, "share_deactivate", fmt.Sprintf("Deactivated share link #%d", linkID))
	return nil
}

// ShareURL is the public address of a link.
func (s *ShareService) ShareURL(code string) string {
	return s.cfg.BaseURL + "/s/" + code
}

// Open runs the access gate for a share page visit and counts the view.
// The owner is let through without a password and is never counted.
func (s *ShareService) Open(ctx context.Context, code, password string, sess *session.Session) (*ShareAccess, error) {
	access, err := s.gate(ctx, code, password, sess)
	if err != nil {
		return nil, err
	}
	if access.Owner {
		return access, nil
	}
	if err := s.countView(ctx, access.Link, sess); err != nil {
		return nil, err
	}
	return access, nil
}

// Download runs the gate again, without accepting a password, and opens the
// shared file. A session that has not passed the password prompt is refused.
// A session that never opened the share page spends its view here, so the
// view limit also bounds direct downloads.
func (s *ShareService) Download(ctx context.Context, code string, sess *session.Session) (*ShareDownload, error) {
	access, err := s.gate(ctx, code, "", sess)
	if err != nil {
		return nil, err
	}

	doc := access.Document
	rc, err := s.store.Open(ctx, doc.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			slog.Error("shared file missing", "share_code", code, "document_id", doc.ID)
			return nil, ErrFileMissing
		}
		return nil, err
	}

	if !access.Owner && !sess.ShareCounted(code) {
		if err := s.countView(ctx, access.Link, sess); err != nil {
			rc.Close()
			return nil, err
		}
	}

	if !access.Owner {
		if err := s.repo.IncrementDownloadCount(ctx, access.Link.ID); err != nil {
			rc.Close()
			if errors.Is(err, database.ErrNotFound) {
				return nil, ErrShareNotFound
			}
			return nil, err
		}
	}

	slog.Info("shared file downloaded", "share_code", code, "document_id", doc.ID, "owner", access.Owner)
	return &ShareDownload{
		Body:     rc,
		Filename: doc.OriginalName,
		MIMEType: doc.MIMEType,
		Size:     doc.FileSize,
	}, nil
}

// gate checks, in order: the link exists and is active, it has not
// expired, the view limit leaves room for this visitor, and the visitor
// passed the password or sign-in requirement.
func (s *ShareService) gate(ctx context.Context, code, password string, sess *session.Session) (*ShareAccess, error) {
	if sess == nil {
		return nil, errNoSession
	}
	if code == "" {
		return nil, ErrShareNotFound
	}

	link, err := s.repo.GetActiveShareByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrShareNotFound
		}
		return nil, err
	}

	if link.IsExpired(s.now()) {
		return nil, ErrShareExpired
	}

	doc, err := s.repo.GetDocument(ctx, link.DocumentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrShareNotFound
		}
		return nil, err
	}

	access := &ShareAccess{
		Link:     link,
		Document: doc,
		Owner:    sess.IsAuthenticated() && sess.UserID == link.CreatedBy,
	}
	if access.Owner {
		return access, nil
	}

	if link.LimitReached() && !sess.ShareCounted(code) {
		return nil, ErrShareLimitReached
	}

	if link.RequiresPassword() && !sess.ShareVerified(code) {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)); err != nil {
			slog.Info("share password rejected", "share_code", code)
			return nil, ErrInvalidPassword
		}
		sess.MarkShareVerified(code)
	}

	if link.ShareType == database.ShareTypePrivate && !sess.IsAuthenticated() {
		return nil, ErrSignInRequired
	}

	return access, nil
}

// countView increments view_count once per session, or on every visit in
// request mode. A session that was already counted keeps access after the
// limit is used up.
func (s *ShareService) countView(ctx context.Context, link *database.SharedLink, sess *session.Session) error {
	code := link.ShareCode

	if strings.EqualFold(s.cfg.ShareViewCounting, config.ViewCountingRequest) {
		err := s.repo.IncrementViewCount(ctx, link.ID)
		switch {
		case err == nil:
			sess.ClaimShareView(code)
			link.ViewCount++
			return nil
		case errors.Is(err, database.ErrViewLimitReached):
			if sess.ShareCounted(code) {
				return nil
			}
			return ErrShareLimitReached
		default:
			return err
		}
	}

	if !sess.ClaimShareView(code) {
		return nil
	}
	if err := s.repo.IncrementViewCount(ctx, link.ID); err != nil {
		sess.ReleaseShareView(code)
		if errors.Is(err, database.ErrViewLimitReached) {
			return ErrShareLimitReached
		}
		return err
	}
	link.ViewCount++
	return nil
}
