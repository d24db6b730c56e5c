package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"findit/internal/server/database"
)

// ClaimRequest is a finder's reward claim.
type ClaimRequest struct {
	Name             string
	Email            string
	Phone            string
	Message          string
	ProofDescription string
}

// ClaimService handles reward claims on items.
type ClaimService struct {
	repo Repo
}

// NewClaimService creates a new claim service.
func NewClaimService(repo Repo) *ClaimService {
	return &ClaimService{repo: repo}
}

// Submit files a pending claim for the item behind a verification code.
// Each email may claim an item once.
func (s *ClaimService) Submit(ctx context.Context, verificationCode string, req ClaimRequest) (*database.RewardClaim, error) {
	code := strings.ToUpper(strings.TrimSpace(verificationCode))
	it, err := s.repo.GetItemByVerificationCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	if !AcceptsClaims(it) {
		return nil, ErrClaimsClosed
	}

	c := &database.RewardClaim{
		ItemID:           it.ID,
		ClaimerName:      strings.TrimSpace(req.Name),
		ClaimerEmail:     strings.ToLower(strings.TrimSpace(req.Email)),
		ClaimerPhone:     strings.TrimSpace(req.Phone),
		Message:          strings.TrimSpace(req.Message),
		ProofDescription: strings.TrimSpace(req.ProofDescription),
	}
	switch {
	case c.ClaimerName == "":
		return nil, invalid("your name is required")
	case !validEmail(c.ClaimerEmail):
		return nil, invalid("a valid email is required")
	case c.Message == "":
		return nil, invalid("a message is required")
	}

	exists, err := s.repo.ClaimExists(ctx, it.ID, c.ClaimerEmail)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateClaim
	}

	// The unique constraint still catches a racing duplicate.
	if err := s.repo.CreateClaim(ctx, c); err != nil {
		if errors.Is(err, database.ErrDuplicateClaim) {
			return nil, ErrDuplicateClaim
		}
		return nil, err
	}

	slog.Info("reward claim submitted", "claim_id", c.ID, "item_id", it.ID)
	recordActivity(ctx, s.repo, it.UserID, "claim_received",
		fmt.Sprintf("New reward claim on %s from %s", it.Name, c.ClaimerName))
	return c, nil
}

// ListForItem returns the claims on an item owned by userID.
func (s *ClaimService) ListForItem(ctx context.Context, userID, itemID int64) (*database.Item, []*database.RewardClaim, error) {
	it, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, nil, err
	}
	claims, err := s.repo.ListClaimsForItem(ctx, it.ID)
	if err != nil {
		return nil, nil, err
	}
	return it, claims, nil
}

// Decide approves or rejects a claim. Only the item's owner may decide.
func (s *ClaimService) Decide(ctx context.Context, userID, claimID int64, approve bool) (*database.RewardClaim, error) {
	c, err := s.repo.GetClaim(ctx, claimID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}

	it, err := s.ownedItem(ctx, userID, c.ItemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}

	status := database.ClaimRejected
	if approve {
		status = database.ClaimApproved
	}
	if err := s.repo.UpdateClaimStatus(ctx, c.ID, status); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	c.Status = status

	slog.Info("reward claim decided", "claim_id", c.ID, "item_id", it.ID, "status", status)
	recordActivity(ctx, s.repo, userID, "claim_"+status,
		fmt.Sprintf("Claim by %s on %s %s", c.ClaimerName, it.Name, status))
	return c, nil
}

func (s *ClaimService) ownedItem(ctx context.Context, userID, itemID int64) (*database.Item, error) {
	it, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	if it.UserID != userID {
		return nil, ErrItemNotFound
	}
	return it, nil
}
