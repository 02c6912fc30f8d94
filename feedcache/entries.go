package feedcache

import (
	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/protocol"
)

// EntriesForViewers denormalizes one post snapshot into a feed entry per
// target viewer. The snapshot must already carry the author attributes; both
// the live batch write worker and the backfill job build their writes through
// this single path.
func EntriesForViewers(post protocol.PostSnapshot, viewerIds []string) []model.FeedEntry {
	entries := make([]model.FeedEntry, 0, len(viewerIds))
	for _, viewerId := range viewerIds {
		entry := model.FeedEntry{
			ViewerId:            viewerId,
			PostId:              post.PostId,
			AuthorId:            post.AuthorId,
			Contents:            post.Contents,
			CreatedAtMs:         post.CreatedAt.UnixNano() / int64(1e6),
			AuthorName:          post.Author.DisplayName,
			AuthorAvatarUrl:     post.Author.AvatarUrl,
			AuthorFollowerCount: post.Author.FollowerCount,
			AuthorFolloweeCount: post.Author.FolloweeCount,
		}
		entry.SortKey = entry.ComputeSortKey()
		entries = append(entries, entry)
	}
	return entries
}
