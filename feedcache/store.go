package feedcache

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/pkg/errors"

	"github.com/Nexkiv/feedfanout/model"
	"github.com/Nexkiv/feedfanout/pagination"
)

// DynamoDB rejects BatchWriteItem calls with more than 25 items.
const DynamoBatchWriteLimit = 25

// BatchPutter is the narrow write interface the batch writer retries against.
// BatchPut returns the subset of entries the store could not process this
// call (throttling/capacity); a non-nil error means the call failed for a
// reason retrying inside the writer won't fix.
type BatchPutter interface {
	BatchPut(entries []model.FeedEntry) ([]model.FeedEntry, error)
	BatchLimit() int
}

// Store is the DynamoDB-backed per-viewer materialized feed.
// Key schema: partition viewer_id, range sort_key (see model.FeedEntry).
type Store struct {
	Client *dynamodb.DynamoDB
	Table  string
}

func NewStore(client *dynamodb.DynamoDB, table string) *Store {
	return &Store{Client: client, Table: table}
}

func (s *Store) BatchLimit() int {
	return DynamoBatchWriteLimit
}

// BatchPut writes up to BatchLimit entries in one BatchWriteItem call.
// Identical keys overwrite (last-write-wins), which is safe because every
// writer for a given key carries an identical payload. Throttling surfaces as
// the full input returned unprocessed rather than an error, so the batch
// writer's backoff handles both partial and whole-call throttling the same
// way.
func (s *Store) BatchPut(entries []model.FeedEntry) ([]model.FeedEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > s.BatchLimit() {
		return nil, fmt.Errorf("batch of %d exceeds store limit %d", len(entries), s.BatchLimit())
	}

	requests := make([]*dynamodb.WriteRequest, 0, len(entries))
	for i := range entries {
		entries[i].SortKey = entries[i].ComputeSortKey()
		item, err := dynamodbattribute.MarshalMap(entries[i])
		if err != nil {
			return nil, errors.Wrap(err, "fail to marshal feed entry")
		}
		requests = append(requests, &dynamodb.WriteRequest{
			PutRequest: &dynamodb.PutRequest{Item: item},
		})
	}

	out, err := s.Client.BatchWriteItem(&dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]*dynamodb.WriteRequest{
			s.Table: requests,
		},
	})
	if err != nil {
		if isThrottle(err) {
			return entries, nil
		}
		return nil, errors.Wrap(err, "batch write failed")
	}

	unprocessed := out.UnprocessedItems[s.Table]
	if len(unprocessed) == 0 {
		return nil, nil
	}

	remaining := make([]model.FeedEntry, 0, len(unprocessed))
	for _, req := range unprocessed {
		if req.PutRequest == nil {
			continue
		}
		var entry model.FeedEntry
		if err := dynamodbattribute.UnmarshalMap(req.PutRequest.Item, &entry); err != nil {
			return nil, errors.Wrap(err, "fail to unmarshal unprocessed feed entry")
		}
		remaining = append(remaining, entry)
	}
	return remaining, nil
}

// Page reads one page of a viewer's cached feed, newest first. The returned
// cursor encodes (createdAtMs, postId) of the last entry; nil means end of
// feed.
func (s *Store) Page(viewerId string, cursor *pagination.Cursor, pageSize int) ([]model.FeedEntry, *pagination.Cursor, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.Table),
		KeyConditionExpression: aws.String("viewer_id = :v"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":v": {S: aws.String(viewerId)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int64(int64(pageSize)),
	}
	if cursor != nil {
		sortKey := fmt.Sprintf("%013d#%s", cursor.SortKey, cursor.Id)
		input.ExclusiveStartKey = map[string]*dynamodb.AttributeValue{
			"viewer_id": {S: aws.String(viewerId)},
			"sort_key":  {S: aws.String(sortKey)},
		}
	}

	out, err := s.Client.Query(input)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fail to page cached feed")
	}

	entries := make([]model.FeedEntry, 0, len(out.Items))
	for _, item := range out.Items {
		var entry model.FeedEntry
		if err := dynamodbattribute.UnmarshalMap(item, &entry); err != nil {
			return nil, nil, errors.Wrap(err, "fail to unmarshal feed entry")
		}
		entries = append(entries, entry)
	}

	var next *pagination.Cursor
	if lek := out.LastEvaluatedKey; len(lek) != 0 {
		sk := lek["sort_key"]
		if sk == nil || sk.S == nil {
			return nil, nil, errors.New("last evaluated key missing sort_key")
		}
		ms, postId, err := model.ParseFeedSortKey(*sk.S)
		if err != nil {
			return nil, nil, err
		}
		next = &pagination.Cursor{SortKey: ms, Id: postId}
	}
	return entries, next, nil
}

func isThrottle(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeProvisionedThroughputExceededException,
		dynamodb.ErrCodeRequestLimitExceeded,
		"ThrottlingException":
		return true
	}
	return false
}
