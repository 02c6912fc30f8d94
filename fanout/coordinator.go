package fanout

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/pkg/errors"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/directory"
	"github.com/Nexkiv/feedfanout/feedcache"
	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
	"github.com/Nexkiv/feedfanout/protocol"
	"github.com/Nexkiv/feedfanout/utils"
	Logger "github.com/Nexkiv/feedfanout/utils/log"
)

// FollowerPager is the slice of the follow directory the coordinator needs.
type FollowerPager interface {
	PageOfFollowers(authorId string, cursor *pagination.Cursor, pageSize int) ([]directory.FollowerItem, *pagination.Cursor, error)
}

// AuthorResolver resolves the author's display attributes once at the start
// of fan-out.
type AuthorResolver interface {
	Get(userId string) (*model.User, error)
}

// FanOutCoordinator walks a post's follower list one page per message. A full
// page re-enqueues a continuation to the same fan-out queue instead of
// looping in-process, so per-invocation work is bounded and the transport's
// concurrency controls the fan-out rate. All coordination state travels in
// the message payload; re-running a step after a crash re-derives the same
// follower page.
type FanOutCoordinator struct {
	Reader      utils.MessageQueueReader
	FanOutQueue utils.MessageQueueWriter
	BatchQueue  utils.MessageQueueWriter
	Followers   FollowerPager
	Users       AuthorResolver
	Setting     app_setting.PipelineAppSetting
	Statsd      statsd.ClientInterface
}

func NewFanOutCoordinator(
	reader utils.MessageQueueReader,
	fanOutQueue utils.MessageQueueWriter,
	batchQueue utils.MessageQueueWriter,
	followers FollowerPager,
	users AuthorResolver,
	setting app_setting.PipelineAppSetting,
	client statsd.ClientInterface,
) *FanOutCoordinator {
	return &FanOutCoordinator{
		Reader:      reader,
		FanOutQueue: fanOutQueue,
		BatchQueue:  batchQueue,
		Followers:   followers,
		Users:       users,
		Setting:     setting,
		Statsd:      client,
	}
}

// ReadAndProcessMessages pulls up to readBatchSize fan-out messages and
// processes them. Successfully handled messages are deleted; failed ones are
// left for the queue's visibility timeout to redeliver, so a failed page
// fetch retries the entire step and never partially advances the cursor.
// Returns the number of messages handled successfully.
func (c *FanOutCoordinator) ReadAndProcessMessages(readBatchSize int64) int {
	msgs, err := c.Reader.ReceiveMessages(readBatchSize)
	if err != nil {
		Logger.Log.Error("fail to read fan-out messages from queue : ", err)
		return 0
	}

	successCount := 0
	for _, msg := range msgs {
		if err := c.ProcessOneFanOutMessage(msg); err != nil {
			Logger.Log.Errorf("fail to process one fan-out message. err: %s , message: %s", err, *msg.Message)
			continue
		}
		successCount++
		if err := c.Reader.DeleteMessage(msg); err != nil {
			Logger.Log.Errorf("fail to delete message from queue: %s", *msg.Message)
		}
	}
	return successCount
}

// ProcessOneFanOutMessage runs one step of the follower walk:
// Step1. decode the message and resolve the author snapshot if absent
// Step2. fetch one page of active followers at the message's cursor
// Step3. emit batch write jobs for the page
// Step4. if more pages remain, re-enqueue a continuation with the advanced cursor
func (c *FanOutCoordinator) ProcessOneFanOutMessage(qmsg *utils.MessageQueueMessage) error {
	body, err := qmsg.Read()
	if err != nil {
		return err
	}
	msg, err := protocol.DecodeFanOutMessage(body)
	if err != nil {
		return err
	}
	if msg.Post.PostId == "" || msg.Post.AuthorId == "" {
		return errors.New("fan-out message missing post or author id")
	}

	if msg.Post.Author == nil {
		author, err := c.Users.Get(msg.Post.AuthorId)
		if err != nil {
			return errors.Wrap(err, "fail to resolve author")
		}
		msg.Post.Author = &protocol.PostAuthor{
			DisplayName:   author.DisplayName,
			AvatarUrl:     author.AvatarUrl,
			FollowerCount: author.FollowerCount,
			FolloweeCount: author.FolloweeCount,
		}
	}

	var cursor *pagination.Cursor
	if msg.LastFollowerPosition != nil {
		cursor, err = pagination.Decode(*msg.LastFollowerPosition)
		if err != nil {
			return err
		}
	}

	// Any error here must propagate: the transport retries the whole page
	// fetch, and the cursor in the message is untouched.
	page, next, err := c.Followers.PageOfFollowers(msg.Post.AuthorId, cursor, c.Setting.FOLLOWER_PAGE_SIZE)
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

	for _, targets := range feedcache.ChunkStrings(viewerIds, c.Setting.MAX_TARGETS_PER_MESSAGE) {
		job := protocol.BatchWriteMessage{
			Post:                msg.Post,
			TargetViewerIds:     targets,
			BatchSequenceNumber: msg.PagesEmittedSoFar,
		}
		body, err := job.Encode()
		if err != nil {
			return err
		}
		// Failing to enqueue is fatal to this invocation; skipping would
		// silently truncate the fan-out.
		if err := c.BatchQueue.SendMessage(body); err != nil {
			return errors.Wrap(err, "fail to enqueue batch write job")
		}
	}
	c.Statsd.Count("feedfanout.coordinator.targets", int64(len(viewerIds)), nil, 1)

	if next != nil {
		token := next.Encode()
		continuation := protocol.FanOutMessage{
			Post:                 msg.Post,
			LastFollowerPosition: &token,
			PagesEmittedSoFar:    msg.PagesEmittedSoFar + 1,
		}
		body, err := continuation.Encode()
		if err != nil {
			return err
		}
		if err := c.FanOutQueue.SendMessage(body); err != nil {
			return errors.Wrap(err, "fail to re-enqueue fan-out continuation")
		}
	}
	c.Statsd.Incr("feedfanout.coordinator.pages", nil, 1)

	return nil
}

// StartFanOut enqueues the initial fan-out message for a freshly published
// post. Called by the post-publish path, which treats it as fire-and-forget.
func StartFanOut(queue utils.MessageQueueWriter, post *model.Post) error {
	msg := protocol.FanOutMessage{
		Post: protocol.PostSnapshot{
			PostId:    post.Id,
			AuthorId:  post.AuthorID,
			Contents:  post.Contents,
			CreatedAt: post.CreatedAt,
		},
	}
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return queue.SendMessage(body)
}
