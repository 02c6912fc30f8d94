package model

import (
	"time"
)

/*

FollowEdge is one follow relationship, active or historical.

Id: primary key, use to identify an edge
FollowerID: the user who follows
FolloweeID: the user being followed
FollowedAt: time when the follow happened
UnfollowedAt: time when the unfollow happened, null means the edge is active

Unfollow is a soft delete: it sets UnfollowedAt instead of removing the row,
preserving audit history. At most one edge with UnfollowedAt = null may exist
per (FollowerID, FolloweeID) pair; FollowDirectory.Follow enforces this by
returning the existing active edge instead of creating a second one.

*/

type FollowEdge struct {
	Id           string `gorm:"primaryKey"`
	FollowerID   string `gorm:"index"`
	FolloweeID   string `gorm:"index"`
	FollowedAt   time.Time
	UnfollowedAt *time.Time
}

// Active returns true iff the edge has not been unfollowed.
func (e *FollowEdge) Active() bool {
	return e.UnfollowedAt == nil
}
