package habits

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/swayammedia/habitpal/internal/auth"
	"github.com/swayammedia/habitpal/internal/friends"
	"github.com/swayammedia/habitpal/internal/ids"
	"github.com/swayammedia/habitpal/internal/profiles"
)

var (
	// ErrInvalidTitle indicates a habit title is blank or too long.
	ErrInvalidTitle = errors.New("habits: invalid habit title")
	// ErrAssignmentNotFound indicates no assignment exists for the id.
	ErrAssignmentNotFound = errors.New("habits: assignment not found")
	// ErrNotAssignmentOwner indicates the caller does not own the
	// assignment being completed.
	ErrNotAssignmentOwner = errors.New("habits: only the assignment owner may record completions")

	errMissingDatabase = errors.New("habits: database handle is required")
	errMissingFriends  = errors.New("habits: friend lister is required")
	errMissingProfiles = errors.New("habits: profile directory is required")
	errMissingProvider = errors.New("habits: id provider is required")
)

const maxTitleLength = 190

// FriendLister resolves the accepted friend set of a user. Implemented by
// the friends service.
type FriendLister interface {
	Friends(ctx context.Context, session auth.Session) ([]friends.Friend, error)
}

// ProfileDirectory resolves display identities for habit owners.
type ProfileDirectory interface {
	Get(ctx context.Context, userID string) (profiles.Profile, error)
}

// ServiceConfig describes the dependencies for the habit service.
type ServiceConfig struct {
	Database   *gorm.DB
	Friends    FriendLister
	Profiles   ProfileDirectory
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages habits, assignments, and completion events, and
// computes the per-viewer visibility of habit progress.
type Service struct {
	db       *gorm.DB
	friends  FriendLister
	profiles ProfileDirectory
	idProv   ids.Provider
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the habit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Friends == nil {
		return nil, errMissingFriends
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
		friends:  cfg.Friends,
		profiles: cfg.Profiles,
		idProv:   cfg.IDProvider,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Create stores a new habit together with the creator's own active
// assignment. Both rows are written in one transaction so a failed
// assignment insert never leaves an orphaned habit behind.
func (s *Service) Create(ctx context.Context, session auth.Session, title, description string) (VisibleHabit, error) {
	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" || len(trimmedTitle) > maxTitleLength {
		return VisibleHabit{}, ErrInvalidTitle
	}

	habitID, err := s.idProv.NewID()
	if err != nil {
		return VisibleHabit{}, err
	}
	assignmentID, err := s.idProv.NewID()
	if err != nil {
		return VisibleHabit{}, err
	}

	habit := Habit{
		ID:          habitID,
		CreatorID:   session.UserID,
		Title:       trimmedTitle,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.clock().UTC(),
	}
	assignment := Assignment{
		ID:      assignmentID,
		HabitID: habitID,
		OwnerID: session.UserID,
		Status:  AssignmentStatusActive,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&habit).Error; err != nil {
			return err
		}
		return tx.Create(&assignment).Error
	})
	if txErr != nil {
		return VisibleHabit{}, txErr
	}

	owner, err := s.ownerIdentity(ctx, session)
	if err != nil {
		return VisibleHabit{}, err
	}

	s.logger.Info("habit created",
		zap.String("habit_id", habitID),
		zap.String("owner_id", session.UserID))
	return VisibleHabit{
		AssignmentID:   assignmentID,
		Habit:          habit,
		Owner:          owner,
		CompletedToday: false,
	}, nil
}

// VisibleOwn lists the session user's active assignments, each annotated
// with whether a completion exists on asOfDay.
func (s *Service) VisibleOwn(ctx context.Context, session auth.Session, asOfDay time.Time) ([]VisibleHabit, error) {
	var assignments []Assignment
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", session.UserID, AssignmentStatusActive).
		Order("created_at ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	owner, err := s.ownerIdentity(ctx, session)
	if err != nil {
		return nil, err
	}
	owners := map[string]Owner{session.UserID: owner}

	return s.assemble(ctx, assignments, owners, asOfDay)
}

// VisibleFriends lists the active assignments of every accepted friend of
// the session user, annotated like VisibleOwn and carrying each owning
// friend's display identity. An empty friend set short-circuits without
// touching the assignment table.
func (s *Service) VisibleFriends(ctx context.Context, session auth.Session, asOfDay time.Time) ([]VisibleHabit, error) {
	friendSet, err := s.friends.Friends(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(friendSet) == 0 {
		return nil, nil
	}

	friendIDs := make([]string, 0, len(friendSet))
	owners := make(map[string]Owner, len(friendSet))
	for _, friend := range friendSet {
		friendIDs = append(friendIDs, friend.UserID)
		owners[friend.UserID] = Owner{
			UserID:   friend.UserID,
			Username: friend.Username,
			FullName: friend.FullName,
		}
	}

	var assignments []Assignment
	err = s.db.WithContext(ctx).
		Where("owner_id IN ? AND status = ?", friendIDs, AssignmentStatusActive).
		Order("created_at ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	return s.assemble(ctx, assignments, owners, asOfDay)
}

// SetCompleted toggles the completion state of an assignment for the
// current day. Completing is idempotent: at most one completion event is
// stored per assignment per day. Uncompleting deletes the day's events so
// the toggle is symmetric.
func (s *Service) SetCompleted(ctx context.Context, session auth.Session, assignmentID string, completed bool) error {
	var assignment Assignment
	err := s.db.WithContext(ctx).Where("id = ?", assignmentID).Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAssignmentNotFound
	}
	if err != nil {
		return err
	}
	if assignment.OwnerID != session.UserID {
		return ErrNotAssignmentOwner
	}

	now := s.clock()
	dayStart := startOfDay(now)

	if !completed {
		return s.db.WithContext(ctx).
			Where("assignment_id = ? AND completed_at >= ?", assignmentID, dayStart).
			Delete(&Completion{}).Error
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&Completion{}).
		Where("assignment_id = ? AND completed_at >= ?", assignmentID, dayStart).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	completionID, err := s.idProv.NewID()
	if err != nil {
		return err
	}
	completion := Completion{
		ID:           completionID,
		AssignmentID: assignmentID,
		CompletedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&completion).Error; err != nil {
		return err
	}

	s.logger.Info("habit completed",
		zap.String("assignment_id", assignmentID),
		zap.String("owner_id", session.UserID))
	return nil
}

// assemble joins assignments with their habits and completion flags.
func (s *Service) assemble(ctx context.Context, assignments []Assignment, owners map[string]Owner, asOfDay time.Time) ([]VisibleHabit, error) {
	habitIDs := make([]string, 0, len(assignments))
	assignmentIDs := make([]string, 0, len(assignments))
	for _, assignment := range assignments {
		habitIDs = append(habitIDs, assignment.HabitID)
		assignmentIDs = append(assignmentIDs, assignment.ID)
	}

	var habitRows []Habit
	if err := s.db.WithContext(ctx).Where("id IN ?", habitIDs).Find(&habitRows).Error; err != nil {
		return nil, err
	}
	habitsByID := make(map[string]Habit, len(habitRows))
	for _, habit := range habitRows {
		habitsByID[habit.ID] = habit
	}

	completed, err := s.completedSet(ctx, assignmentIDs, asOfDay)
	if err != nil {
		return nil, err
	}

	result := make([]VisibleHabit, 0, len(assignments))
	for _, assignment := range assignments {
		habit, ok := habitsByID[assignment.HabitID]
		if !ok {
			continue
		}
		owner, ok := owners[assignment.OwnerID]
		if !ok {
			continue
		}
		result = append(result, VisibleHabit{
			AssignmentID:   assignment.ID,
			Habit:          habit,
			Owner:          owner,
			CompletedToday: completed[assignment.ID],
		})
	}
	return result, nil
}

// completedSet returns the assignment ids with a completion on or after
// the start of asOfDay. No upper bound is applied.
func (s *Service) completedSet(ctx context.Context, assignmentIDs []string, asOfDay time.Time) (map[string]bool, error) {
	dayStart := startOfDay(asOfDay)
	var rows []Completion
	err := s.db.WithContext(ctx).
		Where("assignment_id IN ? AND completed_at >= ?", assignmentIDs, dayStart).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool, len(rows))
	for _, row := range rows {
		completed[row.AssignmentID] = true
	}
	return completed, nil
}

func (s *Service) ownerIdentity(ctx context.Context, session auth.Session) (Owner, error) {
	profile, err := s.profiles.Get(ctx, session.UserID)
	if err != nil {
		return Owner{}, err
	}
	return Owner{
		UserID:   profile.ID,
		Username: profile.Username,
		FullName: profile.FullName,
	}, nil
}
