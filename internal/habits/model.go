package habits

import "time"

// Habit is an immutable habit template. There is no edit or delete path
// once a habit exists.
type Habit struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	CreatorID   string    `gorm:"column:creator_id;size:190;not null;index:idx_habits_creator"`
	Title       string    `gorm:"column:title;size:190;not null"`
	Description string    `gorm:"column:description;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing habit templates.
func (Habit) TableName() string {
	return "habits"
}

// AssignmentStatus enumerates the states of a habit assignment.
type AssignmentStatus string

// AssignmentStatusActive marks an assignment the owner is tracking.
const AssignmentStatusActive AssignmentStatus = "active"

// Assignment binds a habit to one user as an active commitment. The
// unique (habit, owner) index keeps a user from holding the same habit
// twice.
type Assignment struct {
	ID        string           `gorm:"column:id;primaryKey;size:190;not null"`
	HabitID   string           `gorm:"column:habit_id;size:190;not null;uniqueIndex:idx_assignments_habit_owner,priority:1"`
	OwnerID   string           `gorm:"column:owner_id;size:190;not null;uniqueIndex:idx_assignments_habit_owner,priority:2;index:idx_assignments_owner"`
	Status    AssignmentStatus `gorm:"column:status;size:16;not null"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing habit assignments.
func (Assignment) TableName() string {
	return "habit_assignments"
}

// Completion records that an assignment was fulfilled at a point in time.
// At most one completion exists per assignment per calendar day.
type Completion struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	AssignmentID string    `gorm:"column:assignment_id;size:190;not null;index:idx_completions_assignment"`
	CompletedAt  time.Time `gorm:"column:completed_at;not null"`
}

// TableName exposes the table backing completion events.
func (Completion) TableName() string {
	return "habit_completions"
}

// Owner is the display identity attached to a visible habit entry.
type Owner struct {
	UserID   string
	Username string
	FullName string
}

// VisibleHabit is one dashboard entry: an assignment joined with its
// habit, the owning user's identity, and the completed-today flag for
// the requested day.
type VisibleHabit struct {
	AssignmentID   string
	Habit          Habit
	Owner          Owner
	CompletedToday bool
}

// startOfDay truncates a timestamp to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
