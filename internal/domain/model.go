package domain

import (
	"sort"
	"time"
)

// FollowRecord is the GORM model for the following table. One row per
// (target, followed) pair; rows are inserted or deleted, never updated.
type FollowRecord struct {
	TargetID   string    `gorm:"column:target_id;type:varchar(64);primaryKey" json:"target_id"`
	FollowedID string    `gorm:"column:followed_id;type:varchar(64);primaryKey" json:"followed_id"`
	FollowedAt time.Time `gorm:"column:followed_at;not null" json:"followed_at"`
}

func (FollowRecord) TableName() string { return "following" }

// TargetIdentity is a tracked account, resolved once at startup.
type TargetIdentity struct {
	Username string `json:"username"`
	ID       string `json:"id"`
}

// IDSet is an unordered set of opaque account ids.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids; duplicates collapse.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids.
func (s IDSet) Len() int { return len(s) }

// Minus returns the ids in s that are not in other.
func (s IDSet) Minus(other IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ChangeKind distinguishes follow from unfollow events.
type ChangeKind string

const (
	ChangeFollowed   ChangeKind = "followed"
	ChangeUnfollowed ChangeKind = "unfollowed"
)

// ChangeEvent is one observed change to a target's follow-set.
type ChangeEvent struct {
	Kind       ChangeKind     `json:"kind"`
	Target     TargetIdentity `json:"target"`
	FollowedID string         `json:"followed_id"`
	ObservedAt time.Time      `json:"observed_at"`
	CycleID    string         `json:"cycle_id"`
}

// CycleResult summarises one reconciliation cycle.
type CycleResult struct {
	CycleID       string         `json:"cycle_id"`
	Target        TargetIdentity `json:"target"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	RemoteCount   int            `json:"remote_count"`
	SnapshotCount int            `json:"snapshot_count"`
	Added         []string       `json:"added"`
	Removed       []string       `json:"removed"`
	Skipped       bool           `json:"skipped,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Changed reports whether the cycle produced any diff.
func (r CycleResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}
