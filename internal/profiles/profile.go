package profiles

import (
	"strings"
	"time"
)

// Profile holds the public identity of a HabitPal user. The username is
// assigned at registration and never changes; only the full name may be
// edited afterwards, and only by the owner.
type Profile struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Username  string    `gorm:"column:username;size:32;not null;uniqueIndex:idx_profiles_username"`
	FullName  string    `gorm:"column:full_name;size:190"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "profiles"
}

const (
	minUsernameLength = 3
	maxUsernameLength = 32
)

// NormalizeUsername lowercases and trims a raw username so lookups and
// uniqueness checks are case-insensitive.
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func validUsername(username string) bool {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
