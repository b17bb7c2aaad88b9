package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/swayammedia/habitpal/internal/ids"
	"github.com/swayammedia/habitpal/internal/profiles"
)

const minPasswordLength = 8

var (
	// ErrInvalidCredentials indicates the email is unknown or the password
	// does not match. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrInvalidEmail indicates the email is blank or malformed.
	ErrInvalidEmail = errors.New("auth: invalid email")
	// ErrWeakPassword indicates the password is shorter than the minimum.
	ErrWeakPassword = errors.New("auth: password too short")

	errMissingDatabase = errors.New("auth: database handle is required")
	errMissingProfiles = errors.New("auth: profile directory is required")
	errMissingProvider = errors.New("auth: id provider is required")
)

// Credential stores the login secret for a local account. The user id is
// shared with the profiles table.
type Credential struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_credentials_email"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing login credentials.
func (Credential) TableName() string {
	return "user_credentials"
}

// ProfileDirectory is the slice of the profile service the account service
// needs during registration and sign-in.
type ProfileDirectory interface {
	Create(ctx context.Context, userID, username, fullName string) (profiles.Profile, error)
	Get(ctx context.Context, userID string) (profiles.Profile, error)
	Delete(ctx context.Context, userID string) error
}

// ServiceConfig describes the dependencies for the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Profiles   ProfileDirectory
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service implements local password accounts: registration and sign-in.
type Service struct {
	db       *gorm.DB
	profiles ProfileDirectory
	idProv   ids.Provider
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	if cfg.IDProvider == nil {
		return nil, errMissingProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		profiles: cfg.Profiles,
		idProv:   cfg.IDProvider,
		clock:    clock,
		logger:   logger,
	}, nil
}

// SignUp registers a new account: a credential row plus its profile. The
// profile insert enforces username uniqueness; if it fails the credential
// row is removed again so no half-registered account is left behind.
func (s *Service) SignUp(ctx context.Context, email, password, username, fullName string) (Session, error) {
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < minPasswordLength {
		return Session{}, ErrWeakPassword
	}

	var existing Credential
	lookupErr := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&existing).Error
	if lookupErr == nil {
		return Session{}, ErrEmailTaken
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return Session{}, lookupErr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}

	userID, err := s.idProv.NewID()
	if err != nil {
		return Session{}, err
	}

	now := s.clock().UTC()
	credential := Credential{
		UserID:       userID,
		Email:        normalizedEmail,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&credential).Error; err != nil {
		var winner Credential
		if s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&winner).Error == nil {
			return Session{}, ErrEmailTaken
		}
		return Session{}, err
	}

	profile, err := s.profiles.Create(ctx, userID, username, fullName)
	if err != nil {
		if deleteErr := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Credential{}).Error; deleteErr != nil {
			s.logger.Warn("credential cleanup after failed registration",
				zap.String("user_id", userID), zap.Error(deleteErr))
		}
		return Session{}, err
	}

	s.logger.Info("account registered",
		zap.String("user_id", userID), zap.String("username", profile.Username))
	return Session{UserID: userID, Username: profile.Username}, nil
}

// SignIn verifies the email/password pair and returns the caller's session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}

	var credential Credential
	lookupErr := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&credential).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if lookupErr != nil {
		return Session{}, lookupErr
	}

	if bcrypt.CompareHashAndPassword([]byte(credential.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}

	profile, err := s.profiles.Get(ctx, credential.UserID)
	if err != nil {
		return Session{}, err
	}

	return Session{UserID: credential.UserID, Username: profile.Username}, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "", ErrInvalidEmail
	}
	return trimmed, nil
}
