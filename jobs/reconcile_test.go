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
	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
)

// fakeUserStore pages an in-memory id-ordered user list and applies count
// updates in place, so a second walk observes the fixed values.
type fakeUserStore struct {
	users []model.User

	listErr      error
	setCountsErr map[string]int // userId -> remaining failures
}

func (s *fakeUserStore) ListPage(cursor *pagination.Cursor, pageSize int) ([]model.User, *pagination.Cursor, error) {
	if s.listErr != nil {
		return nil, nil, s.listErr
	}

	start := 0
	if cursor != nil {
		start = len(s.users)
		for i, u := range s.users {
			if u.Id > cursor.Id {
				start = i
				break
			}
		}
	}

	end := start + pageSize
	if end > len(s.users) {
		end = len(s.users)
	}
	page := make([]model.User, end-start)
	copy(page, s.users[start:end])

	var next *pagination.Cursor
	if end < len(s.users) {
		next = &pagination.Cursor{Id: page[len(page)-1].Id}
	}
	return page, next, nil
}

func (s *fakeUserStore) SetCounts(userId string, followerCount int, followeeCount int) error {
	if remaining := s.setCountsErr[userId]; remaining > 0 {
		s.setCountsErr[userId] = remaining - 1
		return errors.New("update deadlock")
	}
	for i := range s.users {
		if s.users[i].Id == userId {
			s.users[i].FollowerCount = followerCount
			s.users[i].FolloweeCount = followeeCount
			return nil
		}
	}
	return errors.New("no such user")
}

// fakeEdgeCounter serves true counts and can fail a fixed number of times per
// user to exercise the retry passes.
type fakeEdgeCounter struct {
	follower map[string]int
	followee map[string]int
	failures map[string]int // userId -> remaining failures
	calls    map[string]int
}

func (c *fakeEdgeCounter) ActiveFollowerCount(userId string) (int, error) {
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[userId]++
	if remaining := c.failures[userId]; remaining > 0 {
		c.failures[userId] = remaining - 1
		return 0, errors.New("count query timeout")
	}
	return c.follower[userId], nil
}

func (c *fakeEdgeCounter) ActiveFolloweeCount(userId string) (int, error) {
	return c.followee[userId], nil
}

func newTestReconciler(users *fakeUserStore, edges *fakeEdgeCounter) *Reconciler {
	r := NewReconciler(users, edges, app_setting.DefaultPipelineAppSetting(), &statsd.NoOpClient{})
	r.sleep = func(time.Duration) {}
	return r
}

func TestReconcilerFixesDriftedCounts(t *testing.T) {
	users := &fakeUserStore{users: []model.User{
		{Id: "user-1", FollowerCount: 10, FolloweeCount: 5},
		{Id: "user-2", FollowerCount: 7, FolloweeCount: 3}, // cached follower count drifted
		{Id: "user-3", FollowerCount: 0, FolloweeCount: 0},
	}}
	edges := &fakeEdgeCounter{
		follower: map[string]int{"user-1": 10, "user-2": 9, "user-3": 0},
		followee: map[string]int{"user-1": 5, "user-2": 3, "user-3": 0},
	}
	reconciler := newTestReconciler(users, edges)

	summary, err := reconciler.Run()

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Fixed)
	assert.Equal(t, 0, summary.Errored)
	require.Len(t, summary.Mismatches, 1)
	assert.Equal(t, Mismatch{
		UserId:         "user-2",
		CachedFollower: 7,
		ActualFollower: 9,
		CachedFollowee: 3,
		ActualFollowee: 3,
	}, summary.Mismatches[0])
	assert.Equal(t, 9, users.users[1].FollowerCount)

	// A second run observes no drift.
	again, err := reconciler.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, again.Fixed)
	assert.Empty(t, again.Mismatches)
}

func TestReconcilerWalksAllPages(t *testing.T) {
	var all []model.User
	follower := map[string]int{}
	followee := map[string]int{}
	for i := 0; i < 450; i++ {
		id := fmt.Sprintf("user-%04d", i)
		all = append(all, model.User{Id: id, FollowerCount: 1})
		follower[id] = 1
	}
	users := &fakeUserStore{users: all}
	edges := &fakeEdgeCounter{follower: follower, followee: followee}
	reconciler := newTestReconciler(users, edges)

	summary, err := reconciler.Run()

	require.NoError(t, err)
	assert.Equal(t, 450, summary.Processed)
	assert.Equal(t, 0, summary.Fixed)
}

func TestReconcilerRetryPassRecovers(t *testing.T) {
	users := &fakeUserStore{users: []model.User{
		{Id: "user-1", FollowerCount: 2},
	}}
	edges := &fakeEdgeCounter{
		follower: map[string]int{"user-1": 4},
		followee: map[string]int{},
		failures: map[string]int{"user-1": 1},
	}
	reconciler := newTestReconciler(users, edges)

	summary, err := reconciler.Run()

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fixed)
	assert.Equal(t, 0, summary.Errored)
	assert.Empty(t, summary.FailedUserIds)
	assert.Equal(t, 4, users.users[0].FollowerCount)
}

func TestReconcilerReportsPermanentFailures(t *testing.T) {
	users := &fakeUserStore{users: []model.User{
		{Id: "user-1", FollowerCount: 2},
		{Id: "user-2", FollowerCount: 6},
	}}
	edges := &fakeEdgeCounter{
		follower: map[string]int{"user-1": 2, "user-2": 6},
		followee: map[string]int{},
		failures: map[string]int{"user-2": 100},
	}
	reconciler := newTestReconciler(users, edges)

	summary, err := reconciler.Run()

	require.NoError(t, err, "per-user failures never abort the run")
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, []string{"user-2"}, summary.FailedUserIds)
	// Initial walk plus every retry pass.
	assert.Equal(t, 1+reconciler.Setting.JOB_RETRY_PASSES, edges.calls["user-2"])
}

func TestReconcilerRetriedFixReportsOnce(t *testing.T) {
	users := &fakeUserStore{
		users: []model.User{
			{Id: "user-1", FollowerCount: 2},
		},
		setCountsErr: map[string]int{"user-1": 1},
	}
	edges := &fakeEdgeCounter{
		follower: map[string]int{"user-1": 5},
		followee: map[string]int{},
	}
	reconciler := newTestReconciler(users, edges)

	summary, err := reconciler.Run()

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fixed)
	require.Len(t, summary.Mismatches, 1)
	assert.Equal(t, 5, users.users[0].FollowerCount)
}

func TestReconcilerAbortsWhenUsersUnlistable(t *testing.T) {
	users := &fakeUserStore{listErr: errors.New("db unavailable")}
	reconciler := newTestReconciler(users, &fakeEdgeCounter{})

	_, err := reconciler.Run()

	assert.Error(t, err)
}
