package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no profile exists for the given id or username.
	ErrNotFound = errors.New("profiles: profile not found")
	// ErrInvalidUsername indicates the username is blank, too long, or uses
	// characters outside [a-z0-9_].
	ErrInvalidUsername = errors.New("profiles: invalid username")
	// ErrUsernameTaken indicates another profile already owns the username.
	ErrUsernameTaken = errors.New("profiles: username already taken")

	errMissingDatabase = errors.New("profiles: database handle is required")
	errMissingUserID   = errors.New("profiles: user identifier is required")
)

// ServiceConfig describes the dependencies for the profile service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages user profile rows.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Create inserts a profile for a newly registered user. The username is
// normalized before storage and must be unique across all profiles.
func (s *Service) Create(ctx context.Context, userID, username, fullName string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, errMissingUserID
	}
	normalized := NormalizeUsername(username)
	if !validUsername(normalized) {
		return Profile{}, ErrInvalidUsername
	}

	var existing Profile
	err := s.db.WithContext(ctx).Where("username = ?", normalized).Take(&existing).Error
	if err == nil {
		return Profile{}, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, err
	}

	profile := Profile{
		ID:       userID,
		Username: normalized,
		FullName: strings.TrimSpace(fullName),
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		// The uniqueness check above raced with a concurrent insert when a
		// row for the username now exists.
		var winner Profile
		lookupErr := s.db.WithContext(ctx).Where("username = ?", normalized).Take(&winner).Error
		if lookupErr == nil {
			return Profile{}, ErrUsernameTaken
		}
		return Profile{}, err
	}

	s.logger.Info("profile created", zap.String("user_id", userID), zap.String("username", normalized))
	return profile, nil
}

// Get returns the profile owned by the given user id.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, errMissingUserID
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// GetByUsername resolves a profile by its unique username.
func (s *Service) GetByUsername(ctx context.Context, username string) (Profile, error) {
	normalized := NormalizeUsername(username)
	if normalized == "" {
		return Profile{}, ErrNotFound
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("username = ?", normalized).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// GetMany returns the profiles for the provided user ids. Missing ids are
// omitted from the result rather than reported as errors.
func (s *Service) GetMany(ctx context.Context, userIDs []string) ([]Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var found []Profile
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&found).Error; err != nil {
		return nil, err
	}
	return found, nil
}

// UpdateFullName changes the display name on the caller's own profile.
func (s *Service) UpdateFullName(ctx context.Context, userID, fullName string) (Profile, error) {
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	trimmed := strings.TrimSpace(fullName)
	if trimmed == profile.FullName {
		return profile, nil
	}
	updates := map[string]interface{}{
		"full_name":  trimmed,
		"updated_at": s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		return Profile{}, err
	}
	profile.FullName = trimmed
	return profile, nil
}

// Delete removes a profile row. It exists for compensation when a
// registration fails after the profile insert succeeded.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errMissingUserID
	}
	return s.db.WithContext(ctx).Where("id = ?", userID).Delete(&Profile{}).Error
}
