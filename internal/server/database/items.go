package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const itemColumns = `id, user_id, name, brand, model, serial_number, category, description,
	status, is_public, reward_amount::float8, incident_location, incident_description,
	latitude, longitude, reported_at, found_at, contact_email, contact_phone,
	verification_code, photos, qr_path, created_at`

// publicStatuses are the statuses that make a public item searchable.
var publicStatuses = []string{StatusLost, StatusStolen}

func scanItem(s rowScanner) (*Item, error) {
	it := &Item{}
	var photos []byte
	err := s.Scan(
		&it.ID,
		&it.UserID,
		&it.Name,
		&it.Brand,
		&it.Model,
		&it.SerialNumber,
		&it.Category,
		&it.Description,
		&it.Status,
		&it.IsPublic,
		&it.RewardAmount,
		&it.IncidentLocation,
		&it.IncidentDescription,
		&it.Latitude,
		&it.Longitude,
		&it.ReportedAt,
		&it.FoundAt,
		&it.ContactEmail,
		&it.ContactPhone,
		&it.VerificationCode,
		&photos,
		&it.QRPath,
		&it.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &it.Photos); err != nil {
			return nil, fmt.Errorf("failed to decode photos of item %d: %w", it.ID, err)
		}
	}
	return it, nil
}

func (r *Repository) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateItem inserts an item and fills in its ID and timestamps.
func (r *Repository) CreateItem(ctx context.Context, it *Item) error {
	photos, err := json.Marshal(nonNil(it.Photos))
	if err != nil {
		return fmt.Errorf("failed to encode photos: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO items (
			user_id, name, brand, model, serial_number, category, description,
			status, is_public, reward_amount, incident_location, incident_description,
			latitude, longitude, contact_email, contact_phone, verification_code, photos
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, reported_at, created_at
	`,
		it.UserID,
		it.Name,
		it.Brand,
		it.Model,
		it.SerialNumber,
		it.Category,
		it.Description,
		it.Status,
		it.IsPublic,
		it.RewardAmount,
		it.IncidentLocation,
		it.IncidentDescription,
		it.Latitude,
		it.Longitude,
		it.ContactEmail,
		it.ContactPhone,
		it.VerificationCode,
		string(photos),
	).Scan(&it.ID, &it.ReportedAt, &it.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by its ID.
func (r *Repository) GetItem(ctx context.Context, id int64) (*Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", notFound(err))
	}
	return it, nil
}

// GetItemByVerificationCode retrieves an item by its QR verification code.
func (r *Repository) GetItemByVerificationCode(ctx context.Context, code string) (*Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE verification_code = $1`, code))
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", notFound(err))
	}
	return it, nil
}

// ListItemsByUser returns a user's items, newest first.
func (r *Repository) ListItemsByUser(ctx context.Context, userID int64) ([]*Item, error) {
	return r.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// SearchPublicItems returns public lost or stolen items matching the filter.
// Items offering a reward sort before items without one.
func (r *Repository) SearchPublicItems(ctx context.Context, f ItemSearch) ([]*Item, error) {
	var (
		where = []string{"is_public", "status IN ($1, $2)"}
		args  = []any{publicStatuses[0], publicStatuses[1]}
	)

	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(name ILIKE $%[1]d OR brand ILIKE $%[1]d OR model ILIKE $%[1]d OR category ILIKE $%[1]d OR description ILIKE $%[1]d)", n))
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		args = append(args, c)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s
		ORDER BY (reward_amount > 0) DESC, reward_amount DESC, reported_at DESC
		LIMIT $%d`, itemColumns, strings.Join(where, " AND "), len(args))

	return r.queryItems(ctx, query, args...)
}

// UpdateItemState changes the status, visibility and reward of an item.
// found_at is stamped the first time an item becomes found.
func (r *Repository) UpdateItemState(ctx context.Context, id int64, status string, isPublic bool, reward float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET status = $2, is_public = $3, reward_amount = $4,
			found_at = CASE WHEN $2 = 'found' AND found_at IS NULL THEN NOW() ELSE found_at END
		WHERE id = $1
	`, id, status, isPublic, reward)
	return requireAffected(res, err, "update item")
}

// SetItemPhotos replaces the photo list of an item.
func (r *Repository) SetItemPhotos(ctx context.Context, id int64, photos []string) error {
	data, err := json.Marshal(nonNil(photos))
	if err != nil {
		return fmt.Errorf("failed to encode photos: %w", err)
	}
	res, err := r.db.ExecContext(ctx, "UPDATE items SET photos = $2 WHERE id = $1", id, string(data))
	return requireAffected(res, err, "update item photos")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
