package model

import (
	"fmt"
	"strconv"
	"strings"
)

/*

FeedEntry is one denormalized row of a viewer's cached feed, stored in
DynamoDB keyed by (viewer_id, sort_key).

ViewerId: partition key, the user whose feed this entry belongs to
SortKey: range key, "%013d#%s" of (CreatedAtMs, PostId) so that entries sort
	by publish time with the post id breaking timestamp ties
PostId: the post this entry is a copy of
AuthorId: the post's author
Contents: point-in-time copy of the post contents
CreatedAtMs: post publish time in unix milliseconds

AuthorName, AuthorAvatarUrl, AuthorFollowerCount, AuthorFolloweeCount:
	snapshot of the author's display attributes at fan-out time

An entry is never updated in place. Re-writing the same key always carries an
identical payload (posts are immutable), so concurrent writers resolve by
last-write-wins with no merge.

*/

type FeedEntry struct {
	ViewerId            string `dynamodbav:"viewer_id"`
	SortKey             string `dynamodbav:"sort_key"`
	PostId              string `dynamodbav:"post_id"`
	AuthorId            string `dynamodbav:"author_id"`
	Contents            string `dynamodbav:"contents"`
	CreatedAtMs         int64  `dynamodbav:"created_at_ms"`
	AuthorName          string `dynamodbav:"author_name"`
	AuthorAvatarUrl     string `dynamodbav:"author_avatar_url"`
	AuthorFollowerCount int    `dynamodbav:"author_follower_count"`
	AuthorFolloweeCount int    `dynamodbav:"author_followee_count"`
}

// ComputeSortKey derives the range key from the entry's own fields. The zero
// padded millisecond prefix keeps lexicographic order equal to time order.
func (e *FeedEntry) ComputeSortKey() string {
	return fmt.Sprintf("%013d#%s", e.CreatedAtMs, e.PostId)
}

// ParseFeedSortKey splits a range key back into (createdAtMs, postId).
func ParseFeedSortKey(sortKey string) (int64, string, error) {
	parts := strings.SplitN(sortKey, "#", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed feed sort key: %q", sortKey)
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed feed sort key: %q", sortKey)
	}
	return ms, parts[1], nil
}
