package jobs

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/pkg/errors"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/directory"
	"github.com/Nexkiv/feedfanout/feedcache"
	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
	"github.com/Nexkiv/feedfanout/protocol"
	Logger "github.com/Nexkiv/feedfanout/utils/log"
)

// PostScanner walks all historical posts.
type PostScanner interface {
	Scan(cursor *pagination.Cursor, pageSize int) ([]model.Post, *pagination.Cursor, error)
}

// FollowerPager mirrors the coordinator's view of the follow directory.
type FollowerPager interface {
	PageOfFollowers(authorId string, cursor *pagination.Cursor, pageSize int) ([]directory.FollowerItem, *pagination.Cursor, error)
}

// AuthorResolver resolves authors for snapshot denormalization.
type AuthorResolver interface {
	Get(userId string) (*model.User, error)
}

type BackfillSummary struct {
	PostsProcessed int
	EntriesWritten int
	EntriesDropped int
	Errored        int
	// Posts that still failed after all retry passes, reported for manual
	// follow-up.
	FailedPostIds []string
}

// Backfiller seeds the feed cache for all historical posts through the same
// batch writer path as live fan-out. Re-running is safe: the entry key is
// deterministic, so duplicates overwrite. Each post fans out to its *current*
// active followers, not the followers active at post time; this approximation
// is deliberate, inherited behavior.
type Backfiller struct {
	Posts     PostScanner
	Users     AuthorResolver
	Followers FollowerPager
	Writer    *feedcache.BatchWriter
	Setting   app_setting.PipelineAppSetting
	Statsd    statsd.ClientInterface

	// Injectable for tests.
	sleep func(time.Duration)
}

func NewBackfiller(
	posts PostScanner,
	users AuthorResolver,
	followers FollowerPager,
	writer *feedcache.BatchWriter,
	setting app_setting.PipelineAppSetting,
	client statsd.ClientInterface,
) *Backfiller {
	return &Backfiller{
		Posts:     posts,
		Users:     users,
		Followers: followers,
		Writer:    writer,
		Setting:   setting,
		Statsd:    client,
		sleep:     time.Sleep,
	}
}

// Run scans all posts once, then retries failed posts for up to
// JOB_RETRY_PASSES passes with increasing delay. A failure on one post never
// aborts the rest.
func (b *Backfiller) Run() (*BackfillSummary, error) {
	const scanPageSize = 100

	summary := &BackfillSummary{}

	var failed []model.Post
	var cursor *pagination.Cursor
	for {
		posts, next, err := b.Posts.Scan(cursor, scanPageSize)
		if err != nil {
			return summary, errors.Wrap(err, "fail to scan posts")
		}
		for i := range posts {
			summary.PostsProcessed++
			if err := b.backfillOne(&posts[i], summary); err != nil {
				Logger.Log.Errorf("fail to backfill post %s : %v", posts[i].Id, err)
				failed = append(failed, posts[i])
			}
		}
		if next == nil {
			break
		}
		cursor = next
	}

	for pass := 1; pass <= b.Setting.JOB_RETRY_PASSES && len(failed) > 0; pass++ {
		b.sleep(time.Duration(pass) * time.Second)
		Logger.Log.Warnf("backfill retry pass %d over %d posts", pass, len(failed))

		var stillFailed []model.Post
		for i := range failed {
			if err := b.backfillOne(&failed[i], summary); err != nil {
				Logger.Log.Errorf("fail to backfill post %s on pass %d : %v", failed[i].Id, pass, err)
				stillFailed = append(stillFailed, failed[i])
			}
		}
		failed = stillFailed
	}

	for _, p := range failed {
		summary.Errored++
		summary.FailedPostIds = append(summary.FailedPostIds, p.Id)
	}

	b.Statsd.Count("feedfanout.backfill.entries_written", int64(summary.EntriesWritten), nil, 1)
	Logger.Log.Infof(
		"backfill done: posts=%d written=%d dropped=%d errored=%d",
		summary.PostsProcessed, summary.EntriesWritten, summary.EntriesDropped, summary.Errored,
	)

	return summary, nil
}

func (b *Backfiller) backfillOne(post *model.Post, summary *BackfillSummary) error {
	author, err := b.Users.Get(post.AuthorID)
	if err != nil {
		return errors.Wrap(err, "fail to resolve author")
	}

	snapshot := protocol.PostSnapshot{
		PostId:    post.Id,
		AuthorId:  post.AuthorID,
		Contents:  post.Contents,
		CreatedAt: post.CreatedAt,
		Author: &protocol.PostAuthor{
			DisplayName:   author.DisplayName,
			AvatarUrl:     author.AvatarUrl,
			FollowerCount: author.FollowerCount,
			FolloweeCount: author.FolloweeCount,
		},
	}

	var cursor *pagination.Cursor
	for {
		page, next, err := b.Followers.PageOfFollowers(post.AuthorID, cursor, b.Setting.FOLLOWER_PAGE_SIZE)
		if err != nil {
			return errors.Wrap(err, "fail to fetch follower page")
		}
		if len(page) == 0 {
			return nil
		}

		viewerIds := make([]string, 0, len(page))
		for _, item := range page {
			viewerIds = append(viewerIds, item.ViewerId)
		}

		dropped, err := b.Writer.Write(feedcache.EntriesForViewers(snapshot, viewerIds))
		if err != nil {
			return errors.Wrap(err, "fail to write feed entries")
		}
		summary.EntriesWritten += len(viewerIds) - dropped
		summary.EntriesDropped += dropped

		if next == nil {
			return nil
		}
		cursor = next
	}
}
