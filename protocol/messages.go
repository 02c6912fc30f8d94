// Package protocol defines the JSON wire contracts between the fan-out
// coordinator and the batch write worker. Both messages travel over SQS with
// at-least-once delivery, so every field a handler needs must live in the
// message itself; no state is shared in-process between steps.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// PostAuthor is the snapshot of an author's display attributes resolved once
// at the start of fan-out and denormalized into every feed entry.
type PostAuthor struct {
	DisplayName   string `json:"displayName"`
	AvatarUrl     string `json:"avatarUrl"`
	FollowerCount int    `json:"followerCount"`
	FolloweeCount int    `json:"followeeCount"`
}

// PostSnapshot is the point-in-time copy of a post carried through the
// pipeline. Author is nil only on the very first fan-out message for a post,
// before the coordinator has resolved it.
type PostSnapshot struct {
	PostId    string      `json:"postId"`
	AuthorId  string      `json:"authorId"`
	Contents  string      `json:"contents"`
	CreatedAt time.Time   `json:"createdAt"`
	Author    *PostAuthor `json:"author"`
}

// FanOutMessage drives one step of the paged follower walk. A step that finds
// a full page re-enqueues a FanOutMessage with an advanced
// LastFollowerPosition instead of looping in-process, so each step survives a
// worker crash independently.
type FanOutMessage struct {
	Post                 PostSnapshot `json:"post"`
	LastFollowerPosition *string      `json:"lastFollowerPosition"`
	PagesEmittedSoFar    int          `json:"pagesEmittedSoFar"`
}

// BatchWriteMessage asks the batch write worker to materialize one post into
// the cached feeds of TargetViewerIds. BatchSequenceNumber is diagnostic
// only; no ordering is guaranteed across batches.
type BatchWriteMessage struct {
	Post                PostSnapshot `json:"post"`
	TargetViewerIds     []string     `json:"targetViewerIds"`
	BatchSequenceNumber int          `json:"batchSequenceNumber"`
}

func (m *FanOutMessage) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeFanOutMessage(body string) (*FanOutMessage, error) {
	m := &FanOutMessage{}
	if err := json.Unmarshal([]byte(body), m); err != nil {
		return nil, errors.Wrap(err, "undecodable fan-out message")
	}
	return m, nil
}

func (m *BatchWriteMessage) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeBatchWriteMessage(body string) (*BatchWriteMessage, error) {
	m := &BatchWriteMessage{}
	if err := json.Unmarshal([]byte(body), m); err != nil {
		return nil, errors.Wrap(err, "undecodable batch write message")
	}
	return m, nil
}

// Validate rejects messages that violate the upstream contract. A missing
// author snapshot is a bug signal, not a capacity signal: the coordinator
// always resolves the author before emitting batch work, so the message must
// surface as an error and hit the transport's dead-letter policy rather than
// be silently dropped.
func (m *BatchWriteMessage) Validate() error {
	if m.Post.PostId == "" {
		return errors.New("batch write message missing post id")
	}
	if m.Post.Author == nil {
		return errors.New("batch write message missing author snapshot")
	}
	if len(m.TargetViewerIds) == 0 {
		return errors.New("batch write message has no target viewers")
	}
	return nil
}
