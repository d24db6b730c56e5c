package database

import (
	"context"
	"fmt"
)

const claimColumns = `id, item_id, claimer_name, claimer_email, claimer_phone, message,
	proof_description, status, created_at`

func scanClaim(s rowScanner) (*RewardClaim, error) {
	c := &RewardClaim{}
	err := s.Scan(
		&c.ID,
		&c.ItemID,
		&c.ClaimerName,
		&c.ClaimerEmail,
		&c.ClaimerPhone,
		&c.Message,
		&c.ProofDescription,
		&c.Status,
		&c.CreatedAt,
	)
	return c, err
}

// ClaimExists reports whether email already claimed the item's reward.
func (r *Repository) ClaimExists(ctx context.Context, itemID int64, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM reward_claims WHERE item_id = $1 AND claimer_email = $2)",
		itemID, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check claim: %w", err)
	}
	return exists, nil
}

// CreateClaim inserts a pending claim. A second claim for the same item and
// email fails with ErrDuplicateClaim.
func (r *Repository) CreateClaim(ctx context.Context, c *RewardClaim) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO reward_claims (
			item_id, claimer_name, claimer_email, claimer_phone, message, proof_description
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at
	`,
		c.ItemID,
		c.ClaimerName,
		c.ClaimerEmail,
		c.ClaimerPhone,
		c.Message,
		c.ProofDescription,
	).Scan(&c.ID, &c.Status, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

// GetClaim retrieves a claim by its ID.
func (r *Repository) GetClaim(ctx context.Context, id int64) (*RewardClaim, error) {
	c, err := scanClaim(r.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM reward_claims WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", notFound(err))
	}
	return c, nil
}

// ListClaimsForItem returns the claims on an item, oldest first.
func (r *Repository) ListClaimsForItem(ctx context.Context, itemID int64) ([]*RewardClaim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM reward_claims WHERE item_id = $1 ORDER BY created_at`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []*RewardClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// UpdateClaimStatus records a decision on a claim.
func (r *Repository) UpdateClaimStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE reward_claims SET status = $2 WHERE id = $1", id, status)
	return requireAffected(res, err, "update claim")
}
