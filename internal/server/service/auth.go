package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"findit/internal/server/config"
	"findit/internal/server/database"

	"golang.org/x/crypto/bcrypt"
)

const recentActivityLimit = 10

// Dashboard is the signed-in landing page data.
type Dashboard struct {
	Profile      *database.Profile
	Activity     []*database.ActivityLog
	QuotaPercent float64
}

// AccountService handles sign-up, sign-in and the profile.
type AccountService struct {
	repo Repo
	cfg  *config.Config
}

// NewAccountService creates a new account service.
func NewAccountService(repo Repo, cfg *config.Config) *AccountService {
	return &AccountService{repo: repo, cfg: cfg}
}

// Register creates a user with the default storage quota.
func (s *AccountService) Register(ctx context.Context, email, fullName, password string) (*database.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	fullName = strings.TrimSpace(fullName)

	if !validEmail(email) {
		return nil, invalid("a valid email is required")
	}
	if fullName == "" {
		return nil, invalid("name is required")
	}
	if len(password) < 8 {
		return nil, invalid("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &database.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(hash),
		Role:         database.RoleUser,
		StorageLimit: s.cfg.DefaultStorageLimit,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	slog.Info("user registered", "user_id", u.ID)
	recordActivity(ctx, s.repo, u.ID, "register", "Account created")
	return u, nil
}

// Authenticate checks credentials and returns the user.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*database.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	recordActivity(ctx, s.repo, u.ID, "login", "Signed in")
	return u, nil
}

// Dashboard loads the profile, quota usage and recent activity.
func (s *AccountService) Dashboard(ctx context.Context, userID int64) (*Dashboard, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	activity, err := s.repo.ListRecentActivity(ctx, userID, recentActivityLimit)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Profile:      profile,
		Activity:     activity,
		QuotaPercent: quotaPercent(profile.StorageUsed, profile.StorageLimit),
	}, nil
}

// UpdateName changes the display name.
func (s *AccountService) UpdateName(ctx context.Context, userID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name is required")
	}
	if err := s.repo.UpdateFullName(ctx, userID, name); err != nil {
		return err
	}
	recordActivity(ctx, s.repo, userID, "profile_update", "Display name changed")
	return nil
}

func quotaPercent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	p := float64(used) / float64(limit) * 100
	if p > 100 {
		p = 100
	}
	return p
}
