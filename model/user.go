package model

import (
	"time"

	"gorm.io/gorm"
)

/*

User is a member of the follow graph.

Id: primary key, use to identify a user
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

DisplayName: user's display name, denormalized into feed entries at fan-out
AvatarUrl: user's avatar, denormalized into feed entries at fan-out
FollowerCount: cached count of active followers
FolloweeCount: cached count of active followees

FollowerCount and FolloweeCount are cached aggregates, not source of truth.
The reconciliation job recomputes them from the follow_edges table and
overwrites them when they drift.

*/

type User struct {
	Id            string `gorm:"primaryKey"`
	CreatedAt     time.Time
	DeletedAt     gorm.DeletedAt
	DisplayName   string
	AvatarUrl     string
	FollowerCount int
	FolloweeCount int
}
