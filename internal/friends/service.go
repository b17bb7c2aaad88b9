package friends

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/swayammedia/habitpal/internal/auth"
	"github.com/swayammedia/habitpal/internal/ids"
	"github.com/swayammedia/habitpal/internal/profiles"
)

var (
	// ErrSelfRequest indicates a user tried to befriend themselves.
	ErrSelfRequest = errors.New("friends: cannot send a friend request to yourself")
	// ErrUserNotFound indicates the target username resolves to no user.
	ErrUserNotFound = errors.New("friends: user not found")
	// ErrAlreadyPending indicates a request between the pair is already open.
	ErrAlreadyPending = errors.New("friends: a friend request is already pending")
	// ErrAlreadyFriends indicates the pair is already connected.
	ErrAlreadyFriends = errors.New("friends: already friends")
	// ErrRequestNotFound indicates no pending request exists for the id.
	ErrRequestNotFound = errors.New("friends: friend request not found")
	// ErrNotRequestTarget indicates the caller is not the endpoint allowed
	// to respond to the request.
	ErrNotRequestTarget = errors.New("friends: only the request target may respond")

	errMissingDatabase = errors.New("friends: database handle is required")
	errMissingProfiles = errors.New("friends: profile directory is required")
	errMissingProvider = errors.New("friends: id provider is required")
)

// Friend is one member of a user's resolved friend set.
type Friend struct {
	UserID   string
	Username string
	FullName string
}

// Request is one incoming pending friend request.
type Request struct {
	RequestID   string
	RequesterID string
	Username    string
	FullName    string
}

// ProfileDirectory is the slice of the profile service the friendship
// service needs to resolve usernames and display identities.
type ProfileDirectory interface {
	GetByUsername(ctx context.Context, username string) (profiles.Profile, error)
	GetMany(ctx context.Context, userIDs []string) ([]profiles.Profile, error)
}

// ServiceConfig describes the dependencies for the friendship service.
type ServiceConfig struct {
	Database   *gorm.DB
	Profiles   ProfileDirectory
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service resolves friend sets and drives the request state machine.
type Service struct {
	db       *gorm.DB
	profiles ProfileDirectory
	idProv   ids.Provider
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the friendship service.
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

// Friends returns the accepted friend set of the session user. A single
// stored edge serves both endpoints: the other endpoint's profile is the
// friend. Callers must not assume any ordering.
func (s *Service) Friends(ctx context.Context, session auth.Session) ([]Friend, error) {
	var edges []Edge
	err := s.db.WithContext(ctx).
		Where("status = ? AND (user_low_id = ? OR user_high_id = ?)", StatusAccepted, session.UserID, session.UserID).
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	friendIDs := make([]string, 0, len(edges))
	for _, edge := range edges {
		friendIDs = append(friendIDs, edge.otherEndpoint(session.UserID))
	}

	resolved, err := s.profiles.GetMany(ctx, friendIDs)
	if err != nil {
		return nil, err
	}

	result := make([]Friend, 0, len(resolved))
	for _, profile := range resolved {
		result = append(result, Friend{
			UserID:   profile.ID,
			Username: profile.Username,
			FullName: profile.FullName,
		})
	}
	return result, nil
}

// PendingIncoming returns the open requests awaiting the session user's
// response, newest first. Outgoing pending requests are not exposed.
func (s *Service) PendingIncoming(ctx context.Context, session auth.Session) ([]Request, error) {
	var edges []Edge
	err := s.db.WithContext(ctx).
		Where("status = ? AND (user_low_id = ? OR user_high_id = ?) AND initiator_id <> ?",
			StatusPending, session.UserID, session.UserID, session.UserID).
		Order("created_at DESC").
		Find(&edges).Error
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	requesterIDs := make([]string, 0, len(edges))
	for _, edge := range edges {
		requesterIDs = append(requesterIDs, edge.InitiatorID)
	}
	resolved, err := s.profiles.GetMany(ctx, requesterIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]profiles.Profile, len(resolved))
	for _, profile := range resolved {
		byID[profile.ID] = profile
	}

	result := make([]Request, 0, len(edges))
	for _, edge := range edges {
		profile, ok := byID[edge.InitiatorID]
		if !ok {
			continue
		}
		result = append(result, Request{
			RequestID:   edge.ID,
			RequesterID: edge.InitiatorID,
			Username:    profile.Username,
			FullName:    profile.FullName,
		})
	}
	return result, nil
}

// SendRequest opens a pending friendship edge from the session user to the
// user owning targetUsername. Validation order matters: self-request is
// checked before the username lookup, and the existing-edge check before
// the insert. The unique pair index backstops the check-then-insert race:
// a losing concurrent insert surfaces as ErrAlreadyPending.
func (s *Service) SendRequest(ctx context.Context, session auth.Session, targetUsername string) error {
	normalized := profiles.NormalizeUsername(targetUsername)
	if normalized == session.Username {
		return ErrSelfRequest
	}

	target, err := s.profiles.GetByUsername(ctx, normalized)
	if errors.Is(err, profiles.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if target.ID == session.UserID {
		return ErrSelfRequest
	}

	low, high := canonicalPair(session.UserID, target.ID)

	var existing Edge
	err = s.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		Take(&existing).Error
	if err == nil {
		return statusConflict(existing.Status)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	edgeID, err := s.idProv.NewID()
	if err != nil {
		return err
	}
	edge := Edge{
		ID:          edgeID,
		UserLowID:   low,
		UserHighID:  high,
		InitiatorID: session.UserID,
		Status:      StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&edge).Error; err != nil {
		// Lost the race against a concurrent request for the same pair.
		var winner Edge
		lookupErr := s.db.WithContext(ctx).
			Where("user_low_id = ? AND user_high_id = ?", low, high).
			Take(&winner).Error
		if lookupErr == nil {
			return statusConflict(winner.Status)
		}
		return err
	}

	s.logger.Info("friend request sent",
		zap.String("requester_id", session.UserID),
		zap.String("target_id", target.ID))
	return nil
}

// Respond accepts or rejects a pending request. Only the non-initiator
// endpoint may respond. Acceptance flips the status in place on the same
// row; rejection deletes the row so the pair may be re-requested later.
func (s *Service) Respond(ctx context.Context, session auth.Session, requestID string, accept bool) error {
	var edge Edge
	err := s.db.WithContext(ctx).Where("id = ?", requestID).Take(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	if edge.Status != StatusPending {
		return ErrRequestNotFound
	}
	if !edge.touches(session.UserID) || edge.InitiatorID == session.UserID {
		return ErrNotRequestTarget
	}

	if accept {
		updates := map[string]interface{}{
			"status":     StatusAccepted,
			"updated_at": s.clock().UTC(),
		}
		if err := s.db.WithContext(ctx).Model(&Edge{}).Where("id = ?", edge.ID).Updates(updates).Error; err != nil {
			return err
		}
		s.logger.Info("friend request accepted",
			zap.String("request_id", edge.ID),
			zap.String("target_id", session.UserID))
		return nil
	}

	if err := s.db.WithContext(ctx).Where("id = ?", edge.ID).Delete(&Edge{}).Error; err != nil {
		return err
	}
	s.logger.Info("friend request rejected",
		zap.String("request_id", edge.ID),
		zap.String("target_id", session.UserID))
	return nil
}

func statusConflict(status Status) error {
	if status == StatusAccepted {
		return ErrAlreadyFriends
	}
	return ErrAlreadyPending
}
