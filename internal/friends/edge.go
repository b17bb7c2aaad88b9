package friends

import "time"

// Status enumerates the lifecycle states of a friendship edge.
type Status string

const (
	// StatusPending marks an edge awaiting a response from the target.
	StatusPending Status = "pending"
	// StatusAccepted marks an established friendship.
	StatusAccepted Status = "accepted"
)

// Edge is the canonical undirected friendship record. Exactly one row
// exists per unordered pair of users: the endpoints are stored with
// UserLowID < UserHighID and the pair carries a unique index, so a
// duplicate insert fails at the store regardless of request direction.
// InitiatorID records which endpoint sent the request; the other endpoint
// is the only one allowed to accept or reject it. Acceptance updates the
// status in place, rejection deletes the row, and a fresh pending edge may
// be created for the pair afterwards.
type Edge struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserLowID   string    `gorm:"column:user_low_id;size:190;not null;uniqueIndex:idx_friend_edges_pair,priority:1"`
	UserHighID  string    `gorm:"column:user_high_id;size:190;not null;uniqueIndex:idx_friend_edges_pair,priority:2"`
	InitiatorID string    `gorm:"column:initiator_id;size:190;not null;index:idx_friend_edges_initiator"`
	Status      Status    `gorm:"column:status;size:16;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing friendship edges.
func (Edge) TableName() string {
	return "friend_edges"
}

// canonicalPair orders two user ids into the (low, high) storage form.
func canonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// otherEndpoint returns the endpoint of the edge that is not userID.
func (e Edge) otherEndpoint(userID string) string {
	if e.UserLowID == userID {
		return e.UserHighID
	}
	return e.UserLowID
}

// touches reports whether userID is one of the edge's endpoints.
func (e Edge) touches(userID string) bool {
	return e.UserLowID == userID || e.UserHighID == userID
}
