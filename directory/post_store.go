package directory

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
)

var ErrPostNotFound = errors.New("post not found")

// PostStore holds canonical posts. Posts are immutable after creation and
// never deleted; the store only ever appends.
type PostStore struct {
	DB *gorm.DB
}

func NewPostStore(db *gorm.DB) *PostStore {
	return &PostStore{DB: db}
}

// Create persists a new post. A zero id or timestamp is filled in, so callers
// may pass either a fully formed post or just (author, contents).
func (s *PostStore) Create(post *model.Post) error {
	if post.Id == "" {
		post.Id = uuid.New().String()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	if err := s.DB.Create(post).Error; err != nil {
		return errors.Wrap(err, "fail to create post")
	}
	return nil
}

func (s *PostStore) Get(postId string) (*model.Post, error) {
	var post model.Post
	res := s.DB.Where("id = ?", postId).First(&post)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "fail to look up post")
	}
	return &post, nil
}

// Scan walks all historical posts in (created_at, id) order. Used by the
// backfill job.
func (s *PostStore) Scan(cursor *pagination.Cursor, pageSize int) ([]model.Post, *pagination.Cursor, error) {
	q := s.DB.Order("created_at, id").Limit(pageSize + 1)
	if cursor != nil {
		after := time.Unix(0, cursor.SortKey)
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", after, after, cursor.Id)
	}

	var posts []model.Post
	if res := q.Find(&posts); res.Error != nil {
		return nil, nil, errors.Wrap(res.Error, "fail to scan posts")
	}

	var next *pagination.Cursor
	if len(posts) > pageSize {
		posts = posts[:pageSize]
		last := posts[pageSize-1]
		next = &pagination.Cursor{SortKey: last.CreatedAt.UnixNano(), Id: last.Id}
	}
	return posts, next, nil
}
