package jobs

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/pkg/errors"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
	Logger "github.com/Nexkiv/feedfanout/utils/log"
)

// UserWalker is the slice of the user directory the reconciler needs.
type UserWalker interface {
	ListPage(cursor *pagination.Cursor, pageSize int) ([]model.User, *pagination.Cursor, error)
	SetCounts(userId string, followerCount int, followeeCount int) error
}

// EdgeCounter recomputes true counts from the follow edges.
type EdgeCounter interface {
	ActiveFollowerCount(userId string) (int, error)
	ActiveFolloweeCount(userId string) (int, error)
}

// Mismatch is one drift report entry.
type Mismatch struct {
	UserId         string
	CachedFollower int
	ActualFollower int
	CachedFollowee int
	ActualFollowee int
}

type ReconcileSummary struct {
	Processed  int
	Fixed      int
	Errored    int
	Mismatches []Mismatch
	// Users that still failed after all retry passes, reported for manual
	// follow-up. Never silently discarded.
	FailedUserIds []string
}

// Reconciler recomputes every user's follower/followee counts from the
// source-of-truth edges and overwrites drifted cached counters,
// last-computed-wins. It is the compensating control for the batch writer's
// partial-failure policy: individual feed entries are acceptable to lose,
// aggregate counters are not.
type Reconciler struct {
	Users   UserWalker
	Edges   EdgeCounter
	Setting app_setting.PipelineAppSetting
	Statsd  statsd.ClientInterface

	// Injectable for tests.
	sleep func(time.Duration)
}

func NewReconciler(users UserWalker, edges EdgeCounter, setting app_setting.PipelineAppSetting, client statsd.ClientInterface) *Reconciler {
	return &Reconciler{
		Users:   users,
		Edges:   edges,
		Setting: setting,
		Statsd:  client,
		sleep:   time.Sleep,
	}
}

// Run walks all users once, then retries failed users for up to
// JOB_RETRY_PASSES passes with increasing delay. Per-user failures never
// abort the run.
func (r *Reconciler) Run() (*ReconcileSummary, error) {
	const walkPageSize = 200

	summary := &ReconcileSummary{}
	itemDelay := time.Duration(r.Setting.RECONCILE_ITEM_DELAY_MS) * time.Millisecond

	var failed []model.User
	var cursor *pagination.Cursor
	for {
		users, next, err := r.Users.ListPage(cursor, walkPageSize)
		if err != nil {
			// Cannot even enumerate users; this run is unrecoverable.
			return summary, errors.Wrap(err, "fail to page users")
		}
		for i := range users {
			summary.Processed++
			if err := r.reconcileOne(&users[i], summary); err != nil {
				Logger.Log.Errorf("fail to reconcile user %s : %v", users[i].Id, err)
				failed = append(failed, users[i])
			}
			r.sleep(itemDelay)
		}
		if next == nil {
			break
		}
		cursor = next
	}

	for pass := 1; pass <= r.Setting.JOB_RETRY_PASSES && len(failed) > 0; pass++ {
		r.sleep(time.Duration(pass) * itemDelay * 10)
		Logger.Log.Warnf("reconcile retry pass %d over %d users", pass, len(failed))

		var stillFailed []model.User
		for i := range failed {
			if err := r.reconcileOne(&failed[i], summary); err != nil {
				Logger.Log.Errorf("fail to reconcile user %s on pass %d : %v", failed[i].Id, pass, err)
				stillFailed = append(stillFailed, failed[i])
			}
			r.sleep(itemDelay)
		}
		failed = stillFailed
	}

	for _, u := range failed {
		summary.Errored++
		summary.FailedUserIds = append(summary.FailedUserIds, u.Id)
	}

	driftRate := 0.0
	if summary.Processed > 0 {
		driftRate = float64(len(summary.Mismatches)) / float64(summary.Processed)
	}
	r.Statsd.Gauge("feedfanout.reconcile.drift_rate", driftRate, nil, 1)
	Logger.Log.Infof(
		"reconcile done: processed=%d fixed=%d errored=%d drift_rate=%.4f",
		summary.Processed, summary.Fixed, summary.Errored, driftRate,
	)

	return summary, nil
}

func (r *Reconciler) reconcileOne(user *model.User, summary *ReconcileSummary) error {
	actualFollower, err := r.Edges.ActiveFollowerCount(user.Id)
	if err != nil {
		return err
	}
	actualFollowee, err := r.Edges.ActiveFolloweeCount(user.Id)
	if err != nil {
		return err
	}

	if actualFollower == user.FollowerCount && actualFollowee == user.FolloweeCount {
		return nil
	}

	if err := r.Users.SetCounts(user.Id, actualFollower, actualFollowee); err != nil {
		return err
	}

	summary.Fixed++
	summary.Mismatches = append(summary.Mismatches, Mismatch{
		UserId:         user.Id,
		CachedFollower: user.FollowerCount,
		ActualFollower: actualFollower,
		CachedFollowee: user.FolloweeCount,
		ActualFollowee: actualFollowee,
	})
	Logger.Log.Warnf(
		"count drift for user %s: follower %d -> %d, followee %d -> %d",
		user.Id, user.FollowerCount, actualFollower, user.FolloweeCount, actualFollowee,
	)

	// Keep the in-memory copy current so a retry pass doesn't re-report.
	user.FollowerCount = actualFollower
	user.FolloweeCount = actualFollowee
	return nil
}
