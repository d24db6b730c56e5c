package database

import (
	"context"
	"fmt"
)

// LogActivity appends an audit entry. Entries are never updated or deleted.
func (r *Repository) LogActivity(ctx context.Context, a *ActivityLog) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO activity_logs (user_id, action, description, ip_address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, a.UserID, a.Action, a.Description, a.IPAddress).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// ListRecentActivity returns up to limit of a user's latest entries.
func (r *Repository) ListRecentActivity(ctx context.Context, userID int64, limit int) ([]*ActivityLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, description, ip_address, created_at
		FROM activity_logs WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []*ActivityLog
	for rows.Next() {
		a := &ActivityLog{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.Description, &a.IPAddress, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
