package directory

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
)

var ErrUserNotFound = errors.New("user not found")

// UserDirectory resolves user ids to display attributes and cached counts.
// Writes are limited to the cached counters, which reconciliation corrects.
type UserDirectory struct {
	DB *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{DB: db}
}

func (d *UserDirectory) Get(userId string) (*model.User, error) {
	var user model.User
	res := d.DB.Where("id = ?", userId).First(&user)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "fail to look up user")
	}
	return &user, nil
}

// ListPage walks all users in id order. Used by the reconciliation job so it
// never holds the whole table in memory.
func (d *UserDirectory) ListPage(cursor *pagination.Cursor, pageSize int) ([]model.User, *pagination.Cursor, error) {
	q := d.DB.Order("id").Limit(pageSize + 1)
	if cursor != nil {
		q = q.Where("id > ?", cursor.Id)
	}

	var users []model.User
	if res := q.Find(&users); res.Error != nil {
		return nil, nil, errors.Wrap(res.Error, "fail to page users")
	}

	var next *pagination.Cursor
	if len(users) > pageSize {
		users = users[:pageSize]
		next = &pagination.Cursor{Id: users[pageSize-1].Id}
	}
	return users, next, nil
}

// SetCounts overwrites the cached follower/followee counters, last-computed
// wins.
func (d *UserDirectory) SetCounts(userId string, followerCount int, followeeCount int) error {
	res := d.DB.Model(&model.User{}).Where("id = ?", userId).Updates(map[string]interface{}{
		"follower_count": followerCount,
		"followee_count": followeeCount,
	})
	if res.Error != nil {
		return errors.Wrap(res.Error, "fail to update cached counts")
	}
	return nil
}
