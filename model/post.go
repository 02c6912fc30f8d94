package model

import (
	"time"
)

/*

Post is one immutable piece of content published by a user.

Id: primary key, use to identify a post
CreatedAt: publish time, also the feed sort key
AuthorID:
Author: user who published this post, "belongs-to" relation

Contents: post's content in plain text

A post is created exactly once and never mutated or deleted afterwards.
This is what makes the denormalized feed cache writes last-write-wins safe:
every writer for a given (viewer, post) key carries an identical payload.

*/

type Post struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	AuthorID  string `gorm:"index;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Author    User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Contents  string
}
