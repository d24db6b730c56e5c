package database

import (
	"context"
	"fmt"
	"strconv"
)

// profileFields lists the user columns the dashboard needs and the legacy
// names they have been stored under.
var profileFields = []Field{
	{Name: "id", Aliases: []string{"id", "user_id"}},
	{Name: "email", Aliases: []string{"email", "email_address"}},
	{Name: "full_name", Aliases: []string{"full_name", "name", "username"}},
	{Name: "role", Aliases: []string{"role", "user_role"}},
	{Name: "storage_limit", Aliases: []string{"storage_limit", "storage_quota"}},
	{Name: "storage_used", Aliases: []string{"storage_used"}},
}

const userColumns = `id, email, full_name, password_hash, role, storage_limit, storage_used, created_at`

func scanUser(s rowScanner) (*User, error) {
	u := &User{}
	err := s.Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.Role,
		&u.StorageLimit,
		&u.StorageUsed,
		&u.CreatedAt,
	)
	return u, err
}

// CreateUser inserts a new user and fills in its ID and creation time.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, full_name, password_hash, role, storage_limit)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, u.Email, u.FullName, u.PasswordHash, u.Role, u.StorageLimit).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", notFound(err))
	}
	return u, nil
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", notFound(err))
	}
	return u, nil
}

// GetProfile loads the display profile of a user, tolerating user tables that
// store the display name or quota under older column names.
func (r *Repository) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	cols, err := NewColumnProber(r.db).Columns(ctx, "users")
	if err != nil {
		return nil, err
	}

	idCol := "id"
	if !cols["id"] && cols["user_id"] {
		idCol = "user_id"
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1`, SelectList(cols, profileFields), idCol)
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		return nil, fmt.Errorf("failed to get profile: %w", ErrNotFound)
	}

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read profile columns: %w", err)
	}
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	p := &Profile{ID: id, Role: RoleUser}
	for i, name := range names {
		v := values[i]
		switch name {
		case "email":
			p.Email = asString(v)
		case "full_name":
			p.FullName = asString(v)
		case "role":
			if s := asString(v); s != "" {
				p.Role = s
			}
		case "storage_limit":
			p.StorageLimit = asInt64(v)
		case "storage_used":
			p.StorageUsed = asInt64(v)
		}
	}
	if p.FullName == "" {
		p.FullName = p.Email
	}
	return p, nil
}

// UpdateFullName changes a user's display name.
func (r *Repository) UpdateFullName(ctx context.Context, id int64, name string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET full_name = $2 WHERE id = $1", id, name)
	return requireAffected(res, err, "update user name")
}

// ReserveStorage adds size bytes to the user's usage if it stays within the
// limit. ErrQuotaExceeded is returned otherwise and nothing changes.
func (r *Repository) ReserveStorage(ctx context.Context, userID, size int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET storage_used = storage_used + $2
		WHERE id = $1 AND storage_used + $2 <= storage_limit
	`, userID, size)
	if err != nil {
		return fmt.Errorf("failed to reserve storage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve storage: %w", err)
	}
	if n == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// ReleaseStorage subtracts size bytes from the user's usage, never below zero.
func (r *Repository) ReleaseStorage(ctx context.Context, userID, size int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET storage_used = GREATEST(storage_used - $2, 0)
		WHERE id = $1
	`, userID, size)
	return requireAffected(res, err, "release storage")
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	default:
		return 0
	}
}
