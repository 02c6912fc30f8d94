package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/directory"
	"github.com/Nexkiv/feedfanout/feedcache"
	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
)

// fakePostScanner pages an in-memory (createdAt, id)-ordered post list.
type fakePostScanner struct {
	posts []model.Post
	err   error
}

func (s *fakePostScanner) Scan(cursor *pagination.Cursor, pageSize int) ([]model.Post, *pagination.Cursor, error) {
	if s.err != nil {
		return nil, nil, s.err
	}

	start := 0
	if cursor != nil {
		start = len(s.posts)
		for i, p := range s.posts {
			at := p.CreatedAt.UnixNano()
			if at > cursor.SortKey || (at == cursor.SortKey && p.Id > cursor.Id) {
				start = i
				break
			}
		}
	}

	end := start + pageSize
	if end > len(s.posts) {
		end = len(s.posts)
	}
	page := make([]model.Post, end-start)
	copy(page, s.posts[start:end])

	var next *pagination.Cursor
	if end < len(s.posts) {
		last := page[len(page)-1]
		next = &pagination.Cursor{SortKey: last.CreatedAt.UnixNano(), Id: last.Id}
	}
	return page, next, nil
}

type fakeBackfillPager struct {
	items []directory.FollowerItem
}

func (p *fakeBackfillPager) PageOfFollowers(authorId string, cursor *pagination.Cursor, pageSize int) ([]directory.FollowerItem, *pagination.Cursor, error) {
	start := 0
	if cursor != nil {
		start = len(p.items)
		for i, item := range p.items {
			if item.FollowedAt.UnixNano() > cursor.SortKey ||
				(item.FollowedAt.UnixNano() == cursor.SortKey && item.FollowId > cursor.Id) {
				start = i
				break
			}
		}
	}

	end := start + pageSize
	if end > len(p.items) {
		end = len(p.items)
	}
	page := p.items[start:end]

	var next *pagination.Cursor
	if end < len(p.items) {
		last := page[len(page)-1]
		next = &pagination.Cursor{SortKey: last.FollowedAt.UnixNano(), Id: last.FollowId}
	}
	return page, next, nil
}

type fakeUserResolver struct {
	users    map[string]*model.User
	failures map[string]int // userId -> remaining failures
	calls    map[string]int
}

func (r *fakeUserResolver) Get(userId string) (*model.User, error) {
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[userId]++
	if remaining := r.failures[userId]; remaining > 0 {
		r.failures[userId] = remaining - 1
		return nil, errors.New("db unavailable")
	}
	user, ok := r.users[userId]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	return user, nil
}

// cacheStore is an in-memory feed cache. unprocessedPerCall scripts how many
// trailing entries each BatchPut call leaves unprocessed; hardErrs scripts
// leading calls that fail outright.
type cacheStore struct {
	entries            map[string]model.FeedEntry
	calls              int
	unprocessedPerCall int
	hardErrs           int
}

func newCacheStore() *cacheStore {
	return &cacheStore{entries: map[string]model.FeedEntry{}}
}

func (s *cacheStore) BatchLimit() int { return feedcache.DynamoBatchWriteLimit }

func (s *cacheStore) BatchPut(entries []model.FeedEntry) ([]model.FeedEntry, error) {
	s.calls++
	if s.hardErrs > 0 {
		s.hardErrs--
		return nil, errors.New("table does not exist")
	}
	accepted := len(entries) - s.unprocessedPerCall
	if accepted < 0 {
		accepted = 0
	}
	for _, entry := range entries[:accepted] {
		s.entries[entry.ViewerId+"|"+entry.SortKey] = entry
	}
	return entries[accepted:], nil
}

func makeBackfillPosts(n int) []model.Post {
	base := time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC)
	posts := make([]model.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, model.Post{
			Id:        fmt.Sprintf("post-%04d", i),
			AuthorID:  "author-1",
			Contents:  fmt.Sprintf("post number %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return posts
}

func makeBackfillFollowers(n int) []directory.FollowerItem {
	base := time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)
	items := make([]directory.FollowerItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, directory.FollowerItem{
			ViewerId:   fmt.Sprintf("viewer-%04d", i),
			FollowId:   fmt.Sprintf("follow-%04d", i),
			FollowedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return items
}

func newTestBackfiller(scanner *fakePostScanner, resolver *fakeUserResolver, pager *fakeBackfillPager, store feedcache.BatchPutter) *Backfiller {
	setting := app_setting.DefaultPipelineAppSetting()
	// Retries inside a test never need to wait.
	setting.BACKOFF_BASE_MS = 0
	setting.BACKOFF_CAP_MS = 0

	writer := feedcache.NewBatchWriter(store, setting, &statsd.NoOpClient{})
	b := NewBackfiller(scanner, resolver, pager, writer, setting, &statsd.NoOpClient{})
	b.sleep = func(time.Duration) {}
	return b
}

func backfillAuthor() *model.User {
	return &model.User{Id: "author-1", DisplayName: "Alice", FollowerCount: 3}
}

func TestBackfillWritesEveryPostToEveryFollower(t *testing.T) {
	store := newCacheStore()
	backfiller := newTestBackfiller(
		&fakePostScanner{posts: makeBackfillPosts(2)},
		&fakeUserResolver{users: map[string]*model.User{"author-1": backfillAuthor()}},
		&fakeBackfillPager{items: makeBackfillFollowers(3)},
		store,
	)

	summary, err := backfiller.Run()

	require.NoError(t, err)
	assert.Equal(t, 2, summary.PostsProcessed)
	assert.Equal(t, 6, summary.EntriesWritten)
	assert.Equal(t, 0, summary.EntriesDropped)
	assert.Equal(t, 0, summary.Errored)
	assert.Len(t, store.entries, 6)
	for _, entry := range store.entries {
		assert.Equal(t, "Alice", entry.AuthorName)
	}
}

func TestBackfillPagesLargeFollowerLists(t *testing.T) {
	store := newCacheStore()
	backfiller := newTestBackfiller(
		&fakePostScanner{posts: makeBackfillPosts(1)},
		&fakeUserResolver{users: map[string]*model.User{"author-1": backfillAuthor()}},
		&fakeBackfillPager{items: makeBackfillFollowers(250)},
		store,
	)

	summary, err := backfiller.Run()

	require.NoError(t, err)
	assert.Equal(t, 250, summary.EntriesWritten)
	assert.Len(t, store.entries, 250)
}

func TestBackfillRerunIsIdempotent(t *testing.T) {
	store := newCacheStore()
	backfiller := newTestBackfiller(
		&fakePostScanner{posts: makeBackfillPosts(2)},
		&fakeUserResolver{users: map[string]*model.User{"author-1": backfillAuthor()}},
		&fakeBackfillPager{items: makeBackfillFollowers(3)},
		store,
	)

	_, err := backfiller.Run()
	require.NoError(t, err)
	_, err = backfiller.Run()
	require.NoError(t, err)

	assert.Len(t, store.entries, 6, "re-running must overwrite, not duplicate")
}

func TestBackfillAcceptsDroppedEntries(t *testing.T) {
	store := newCacheStore()
	// Every call leaves the last entry unprocessed, so the writer exhausts
	// its attempts with one straggler per chunk.
	store.unprocessedPerCall = 1
	backfiller := newTestBackfiller(
		&fakePostScanner{posts: makeBackfillPosts(1)},
		&fakeUserResolver{users: map[string]*model.User{"author-1": backfillAuthor()}},
		&fakeBackfillPager{items: makeBackfillFollowers(5)},
		store,
	)

	summary, err := backfiller.Run()

	require.NoError(t, err, "exhausted retries are accepted partial failure, not a run failure")
	assert.Equal(t, 4, summary.EntriesWritten)
	assert.Equal(t, 1, summary.EntriesDropped)
	assert.Equal(t, 0, summary.Errored)
}

func TestBackfillContinuesPastFailingPost(t *testing.T) {
	posts := makeBackfillPosts(3)
	posts[1].AuthorID = "author-gone"
	store := newCacheStore()
	resolver := &fakeUserResolver{users: map[string]*model.User{"author-1": backfillAuthor()}}
	backfiller := newTestBackfiller(
		&fakePostScanner{posts: posts},
		resolver,
		&fakeBackfillPager{items: makeBackfillFollowers(2)},
		store,
	)

	summary, err := backfiller.Run()

	require.NoError(t, err, "a bad post never aborts the rest of the scan")
	assert.Equal(t, 3, summary.PostsProcessed)
	assert.Equal(t, 4, summary.EntriesWritten)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, []string{posts[1].Id}, summary.FailedPostIds)
	// Initial scan plus every retry pass.
	assert.Equal(t, 1+backfiller.Setting.JOB_RETRY_PASSES, resolver.calls["author-gone"])
}

func TestBackfillRetryPassRecovers(t *testing.T) {
	store := newCacheStore()
	store.hardErrs = 1
	backfiller := newTestBackfiller(
		&fakePostScanner{posts: makeBackfillPosts(1)},
		&fakeUserResolver{users: map[string]*model.User{"author-1": backfillAuthor()}},
		&fakeBackfillPager{items: makeBackfillFollowers(3)},
		store,
	)

	summary, err := backfiller.Run()

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Errored)
	assert.Empty(t, summary.FailedPostIds)
	assert.Len(t, store.entries, 3)
}

func TestBackfillAbortsWhenPostsUnscannable(t *testing.T) {
	backfiller := newTestBackfiller(
		&fakePostScanner{err: errors.New("db unavailable")},
		&fakeUserResolver{},
		&fakeBackfillPager{},
		newCacheStore(),
	)

	_, err := backfiller.Run()

	assert.Error(t, err)
}
