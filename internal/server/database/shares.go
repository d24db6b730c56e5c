package database

import (
	"context"
	"fmt"
)

const shareColumns = `id, document_id, created_by, share_code, share_type, password_hash,
	expires_at, max_views, view_count, download_count, last_accessed, is_active, created_at`

func scanShare(s rowScanner, extra ...any) (*SharedLink, error) {
	l := &SharedLink{}
	dest := []any{
		&l.ID,
		&l.DocumentID,
		&l.CreatedBy,
		&l.ShareCode,
		&l.ShareType,
		&l.PasswordHash,
		&l.ExpiresAt,
		&l.MaxViews,
		&l.ViewCount,
		&l.DownloadCount,
		&l.LastAccessed,
		&l.IsActive,
		&l.CreatedAt,
	}
	err := s.Scan(append(dest, extra...)...)
	return l, err
}

// CreateShare inserts a share link and fills in its ID and creation time.
func (r *Repository) CreateShare(ctx context.Context, l *SharedLink) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO shared_links (
			document_id, created_by, share_code, share_type,
			password_hash, expires_at, max_views
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, is_active, created_at
	`,
		l.DocumentID,
		l.CreatedBy,
		l.ShareCode,
		l.ShareType,
		l.PasswordHash,
		l.ExpiresAt,
		l.MaxViews,
	).Scan(&l.ID, &l.IsActive, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create share link: %w", err)
	}
	return nil
}

// GetActiveShareByCode retrieves an active link by exact share code match.
func (r *Repository) GetActiveShareByCode(ctx context.Context, code string) (*SharedLink, error) {
	l, err := scanShare(r.db.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM shared_links WHERE share_code = $1 AND is_active`, code))
	if err != nil {
		return nil, fmt.Errorf("failed to get share link: %w", notFound(err))
	}
	return l, nil
}

// ListSharesByUser returns the links a user created, joined with document names.
func (r *Repository) ListSharesByUser(ctx context.Context, userID int64) ([]*SharedLinkWithDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.document_id, s.created_by, s.share_code, s.share_type, s.password_hash,
			   s.expires_at, s.max_views, s.view_count, s.download_count, s.last_accessed,
			   s.is_active, s.created_at, d.original_name
		FROM shared_links s
		JOIN documents d ON d.id = s.document_id
		WHERE s.created_by = $1
		ORDER BY s.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list share links: %w", err)
	}
	defer rows.Close()

	var links []*SharedLinkWithDocument
	for rows.Next() {
		var name string
		l, err := scanShare(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share link: %w", err)
		}
		links = append(links, &SharedLinkWithDocument{SharedLink: *l, DocumentName: name})
	}
	return links, rows.Err()
}

// DeactivateShare disables a link owned by userID.
func (r *Repository) DeactivateShare(ctx context.Context, id, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE shared_links SET is_active = FALSE WHERE id = $1 AND created_by = $2", id, userID)
	return requireAffected(res, err, "deactivate share link")
}

// IncrementViewCount atomically counts one view and stamps last_accessed. The
// update only applies while the link is active and below its view limit, so
// concurrent visitors cannot overrun max_views. ErrViewLimitReached is
// returned when no row qualified.
func (r *Repository) IncrementViewCount(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shared_links
		SET view_count = view_count + 1, last_accessed = NOW()
		WHERE id = $1 AND is_active AND (max_views = 0 OR view_count < max_views)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment view count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to increment view count: %w", err)
	}
	if n == 0 {
		return ErrViewLimitReached
	}
	return nil
}

// IncrementDownloadCount atomically increments the download counter.
func (r *Repository) IncrementDownloadCount(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shared_links
		SET download_count = download_count + 1, last_accessed = NOW()
		WHERE id = $1
	`, id)
	return requireAffected(res, err, "increment download count")
}
