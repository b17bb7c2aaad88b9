package habits

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/swayammedia/habitpal/internal/auth"
	"github.com/swayammedia/habitpal/internal/friends"
	"github.com/swayammedia/habitpal/internal/ids"
	"github.com/swayammedia/habitpal/internal/profiles"
)

// staticFriendLister serves a fixed friend set keyed by user id.
type staticFriendLister struct {
	byUser map[string][]friends.Friend
}

func (l *staticFriendLister) Friends(_ context.Context, session auth.Session) ([]friends.Friend, error) {
	return l.byUser[session.UserID], nil
}

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, lister FriendLister) (*Service, *profiles.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:habits_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&profiles.Profile{}, &Habit{}, &Assignment{}, &Completion{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build profile service: %v", err)
	}

	if lister == nil {
		lister = &staticFriendLister{byUser: map[string][]friends.Friend{}}
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Friends:    lister,
		Profiles:   profileService,
		IDProvider: ids.NewUUIDProvider(),
		Clock:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("failed to build habit service: %v", err)
	}
	return service, profileService, db
}

func seedUser(t *testing.T, profileService *profiles.Service, id, username, fullName string) auth.Session {
	t.Helper()
	profile, err := profileService.Create(context.Background(), id, username, fullName)
	if err != nil {
		t.Fatalf("failed to seed profile %s: %v", username, err)
	}
	return auth.Session{UserID: profile.ID, Username: profile.Username}
}

func TestCreateStoresHabitWithOwnerAssignment(t *testing.T) {
	service, profileService, db := newTestService(t, nil)
	alice := seedUser(t, profileService, "user-a", "alice", "Alice A")

	entry, err := service.Create(context.Background(), alice, "  Morning run  ", "5k before work")
	if err != nil {
		t.Fatalf("unexpected error creating habit: %v", err)
	}
	if entry.Habit.Title != "Morning run" {
		t.Fatalf("expected trimmed title, got %q", entry.Habit.Title)
	}
	if entry.CompletedToday {
		t.Fatalf("new habit must not be completed")
	}
	if entry.Owner.Username != "alice" {
		t.Fatalf("unexpected owner %s", entry.Owner.Username)
	}

	var assignment Assignment
	if err := db.Where("id = ?", entry.AssignmentID).Take(&assignment).Error; err != nil {
		t.Fatalf("failed to load assignment: %v", err)
	}
	if assignment.OwnerID != "user-a" {
		t.Fatalf("unexpected assignment owner %s", assignment.OwnerID)
	}
	if assignment.Status != AssignmentStatusActive {
		t.Fatalf("expected active assignment, got %s", assignment.Status)
	}
	if assignment.HabitID != entry.Habit.ID {
		t.Fatalf("assignment not bound to created habit")
	}
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	service, profileService, db := newTestService(t, nil)
	alice := seedUser(t, profileService, "user-a", "alice", "")

	_, err := service.Create(context.Background(), alice, "   ", "description")
	if !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}

	var count int64
	if err := db.Model(&Habit{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count habits: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no habit rows, got %d", count)
	}
}

func TestVisibleOwnMarksCompletionForTheRequestedDay(t *testing.T) {
	service, profileService, _ := newTestService(t, nil)
	alice := seedUser(t, profileService, "user-a", "alice", "")

	entry, err := service.Create(context.Background(), alice, "Read", "")
	if err != nil {
		t.Fatalf("unexpected error creating habit: %v", err)
	}
	if err := service.SetCompleted(context.Background(), alice, entry.AssignmentID, true); err != nil {
		t.Fatalf("unexpected error completing habit: %v", err)
	}

	today, err := service.VisibleOwn(context.Background(), alice, testNow)
	if err != nil {
		t.Fatalf("unexpected error listing habits: %v", err)
	}
	if len(today) != 1 {
		t.Fatalf("expected one visible habit, got %d", len(today))
	}
	if !today[0].CompletedToday {
		t.Fatalf("expected habit completed today")
	}

	tomorrow, err := service.VisibleOwn(context.Background(), alice, testNow.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("unexpected error listing habits: %v", err)
	}
	if tomorrow[0].CompletedToday {
		t.Fatalf("expected habit not completed as of tomorrow")
	}
}

func TestSetCompletedIsIdempotentPerDay(t *testing.T) {
	service, profileService, db := newTestService(t, nil)
	alice := seedUser(t, profileService, "user-a", "alice", "")

	entry, err := service.Create(context.Background(), alice, "Stretch", "")
	if err != nil {
		t.Fatalf("unexpected error creating habit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := service.SetCompleted(context.Background(), alice, entry.AssignmentID, true); err != nil {
			t.Fatalf("unexpected error on completion %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&Completion{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count completions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single completion event, got %d", count)
	}
}

func TestSetCompletedFalseDeletesTodaysEvents(t *testing.T) {
	service, profileService, db := newTestService(t, nil)
	alice := seedUser(t, profileService, "user-a", "alice", "")

	entry, err := service.Create(context.Background(), alice, "Meditate", "")
	if err != nil {
		t.Fatalf("unexpected error creating habit: %v", err)
	}

	// A completion from yesterday must survive today's uncomplete.
	yesterday := Completion{
		ID:           "completion-old",
		AssignmentID: entry.AssignmentID,
		CompletedAt:  testNow.AddDate(0, 0, -1),
	}
	if err := db.Create(&yesterday).Error; err != nil {
		t.Fatalf("failed to seed completion: %v", err)
	}

	if err := service.SetCompleted(context.Background(), alice, entry.AssignmentID, true); err != nil {
		t.Fatalf("unexpected error completing habit: %v", err)
	}
	if err := service.SetCompleted(context.Background(), alice, entry.AssignmentID, false); err != nil {
		t.Fatalf("unexpected error uncompleting habit: %v", err)
	}

	var remaining []Completion
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to load completions: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "completion-old" {
		t.Fatalf("expected only yesterday's completion to remain, got %#v", remaining)
	}

	entries, err := service.VisibleOwn(context.Background(), alice, testNow)
	if err != nil {
		t.Fatalf("unexpected error listing habits: %v", err)
	}
	if entries[0].CompletedToday {
		t.Fatalf("expected habit no longer completed today")
	}
}

func TestSetCompletedRequiresAssignmentOwner(t *testing.T) {
	service, profileService, _ := newTestService(t, nil)
	alice := seedUser(t, profileService, "user-a", "alice", "")
	bob := seedUser(t, profileService, "user-b", "bob", "")

	entry, err := service.Create(context.Background(), alice, "Journal", "")
	if err != nil {
		t.Fatalf("unexpected error creating habit: %v", err)
	}

	if err := service.SetCompleted(context.Background(), bob, entry.AssignmentID, true); !errors.Is(err, ErrNotAssignmentOwner) {
		t.Fatalf("expected ErrNotAssignmentOwner, got %v", err)
	}
	if err := service.SetCompleted(context.Background(), bob, "no-such-assignment", true); !errors.Is(err, ErrAssignmentNotFound) {
		t.Fatalf("expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestVisibleFriendsReturnsOnlyFriendHabits(t *testing.T) {
	lister := &staticFriendLister{byUser: map[string][]friends.Friend{}}
	service, profileService, _ := newTestService(t, lister)
	alice := seedUser(t, profileService, "user-a", "alice", "")
	bob := seedUser(t, profileService, "user-b", "bob", "Bob B")
	carol := seedUser(t, profileService, "user-c", "carol", "")

	bobEntry, err := service.Create(context.Background(), bob, "Swim", "laps")
	if err != nil {
		t.Fatalf("unexpected error creating bob habit: %v", err)
	}
	if _, err := service.Create(context.Background(), carol, "Paint", ""); err != nil {
		t.Fatalf("unexpected error creating carol habit: %v", err)
	}
	if err := service.SetCompleted(context.Background(), bob, bobEntry.AssignmentID, true); err != nil {
		t.Fatalf("unexpected error completing bob habit: %v", err)
	}

	// Alice has no friends yet: nothing is visible even though habits exist.
	entries, err := service.VisibleFriends(context.Background(), alice, testNow)
	if err != nil {
		t.Fatalf("unexpected error listing friends habits: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no visible habits without friends, got %d", len(entries))
	}

	lister.byUser[alice.UserID] = []friends.Friend{
		{UserID: bob.UserID, Username: "bob", FullName: "Bob B"},
	}

	entries, err = service.VisibleFriends(context.Background(), alice, testNow)
	if err != nil {
		t.Fatalf("unexpected error listing friends habits: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly bob's habit, got %d entries", len(entries))
	}
	if entries[0].Habit.Title != "Swim" {
		t.Fatalf("unexpected habit %q", entries[0].Habit.Title)
	}
	if !entries[0].CompletedToday {
		t.Fatalf("expected bob's habit completed today")
	}
	if entries[0].Owner.UserID != bob.UserID || entries[0].Owner.FullName != "Bob B" {
		t.Fatalf("unexpected owner identity %#v", entries[0].Owner)
	}
}
