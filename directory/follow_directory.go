package directory

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
)

// FollowerItem is one row of a follower page: the viewer plus the edge that
// makes them a follower.
type FollowerItem struct {
	ViewerId   string
	FollowId   string
	FollowedAt time.Time
}

// FollowDirectory is the read-mostly view of the follow graph the pipeline
// consumes. Edges are ordered by (followed_at, id) so a cursor built from the
// last returned row makes forward progress even when edges with identical
// timestamps are inserted mid-walk.
type FollowDirectory struct {
	DB *gorm.DB
}

func NewFollowDirectory(db *gorm.DB) *FollowDirectory {
	return &FollowDirectory{DB: db}
}

// PageOfFollowers returns one page of active followers of authorId, oldest
// follow first, and a cursor to continue. The query peeks one row past
// pageSize so nextCursor is non-nil iff more rows truly exist; a follower set
// of exactly N*pageSize rows therefore walks in ceil(N/pageSize) pages with
// no trailing empty page.
func (d *FollowDirectory) PageOfFollowers(authorId string, cursor *pagination.Cursor, pageSize int) ([]FollowerItem, *pagination.Cursor, error) {
	edges, next, err := d.pageOfEdges("followee_id", authorId, cursor, pageSize)
	if err != nil {
		return nil, nil, err
	}

	items := make([]FollowerItem, 0, len(edges))
	for _, e := range edges {
		items = append(items, FollowerItem{
			ViewerId:   e.FollowerID,
			FollowId:   e.Id,
			FollowedAt: e.FollowedAt,
		})
	}
	return items, next, nil
}

func (d *FollowDirectory) pageOfEdges(column string, userId string, cursor *pagination.Cursor, pageSize int) ([]model.FollowEdge, *pagination.Cursor, error) {
	q := d.DB.Where(column+" = ? AND unfollowed_at IS NULL", userId)
	if cursor != nil {
		after := time.Unix(0, cursor.SortKey)
		q = q.Where("followed_at > ? OR (followed_at = ? AND id > ?)", after, after, cursor.Id)
	}

	var edges []model.FollowEdge
	// Peek one row past the page to learn whether more remain.
	res := q.Order("followed_at, id").Limit(pageSize + 1).Find(&edges)
	if res.Error != nil {
		return nil, nil, errors.Wrap(res.Error, "fail to page follow edges")
	}

	var next *pagination.Cursor
	if len(edges) > pageSize {
		edges = edges[:pageSize]
		last := edges[pageSize-1]
		next = &pagination.Cursor{SortKey: last.FollowedAt.UnixNano(), Id: last.Id}
	}
	return edges, next, nil
}

// ActiveFollowerCount recomputes the true number of active followers of
// userId by paging through the edges. O(followers), not O(1); this is the
// reconciliation job's source of truth for the cached counter.
func (d *FollowDirectory) ActiveFollowerCount(userId string) (int, error) {
	return d.countActiveEdges("followee_id", userId)
}

// ActiveFolloweeCount recomputes the true number of users userId actively
// follows.
func (d *FollowDirectory) ActiveFolloweeCount(userId string) (int, error) {
	return d.countActiveEdges("follower_id", userId)
}

func (d *FollowDirectory) countActiveEdges(column string, userId string) (int, error) {
	const countPageSize = 500

	total := 0
	var cursor *pagination.Cursor
	for {
		edges, next, err := d.pageOfEdges(column, userId, cursor, countPageSize)
		if err != nil {
			return 0, err
		}
		total += len(edges)
		if next == nil {
			return total, nil
		}
		cursor = next
	}
}

// Follow creates an active edge from followerId to followeeId. Idempotent: if
// an active edge already exists it is returned unchanged, keeping at most one
// active edge per pair.
func (d *FollowDirectory) Follow(followerId string, followeeId string) (*model.FollowEdge, error) {
	var existing model.FollowEdge
	res := d.DB.Where(
		"follower_id = ? AND followee_id = ? AND unfollowed_at IS NULL",
		followerId, followeeId,
	).First(&existing)
	if res.Error == nil {
		return &existing, nil
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(res.Error, "fail to look up follow edge")
	}

	edge := model.FollowEdge{
		Id:         uuid.New().String(),
		FollowerID: followerId,
		FolloweeID: followeeId,
		FollowedAt: time.Now(),
	}
	if err := d.DB.Create(&edge).Error; err != nil {
		return nil, errors.Wrap(err, "fail to create follow edge")
	}
	return &edge, nil
}

// Unfollow soft deletes the active edge by stamping unfollowed_at. The row is
// kept for audit history; cached feed entries written while the edge was
// active deliberately persist.
func (d *FollowDirectory) Unfollow(followerId string, followeeId string) error {
	now := time.Now()
	res := d.DB.Model(&model.FollowEdge{}).Where(
		"follower_id = ? AND followee_id = ? AND unfollowed_at IS NULL",
		followerId, followeeId,
	).Update("unfollowed_at", &now)
	if res.Error != nil {
		return errors.Wrap(res.Error, "fail to unfollow")
	}
	return nil
}
