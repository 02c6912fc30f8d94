package fanout

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/pkg/errors"

	"github.com/Nexkiv/feedfanout/feedcache"
	"github.com/Nexkiv/feedfanout/protocol"
	"github.com/Nexkiv/feedfanout/utils"
	Logger "github.com/Nexkiv/feedfanout/utils/log"
)

// BatchWriteWorker consumes batch write jobs and materializes them into the
// feed cache through the batch writer. Handlers are idempotent: the entry key
// is deterministic, so redelivery of a half-finished job overwrites identical
// rows.
type BatchWriteWorker struct {
	Reader utils.MessageQueueReader
	Writer *feedcache.BatchWriter
	Statsd statsd.ClientInterface
}

func NewBatchWriteWorker(reader utils.MessageQueueReader, writer *feedcache.BatchWriter, client statsd.ClientInterface) *BatchWriteWorker {
	return &BatchWriteWorker{
		Reader: reader,
		Writer: writer,
		Statsd: client,
	}
}

// ReadAndProcessMessages pulls up to readBatchSize jobs; failed jobs are left
// for redelivery. Returns the number handled successfully.
func (w *BatchWriteWorker) ReadAndProcessMessages(readBatchSize int64) int {
	msgs, err := w.Reader.ReceiveMessages(readBatchSize)
	if err != nil {
		Logger.Log.Error("fail to read batch write messages from queue : ", err)
		return 0
	}

	successCount := 0
	for _, msg := range msgs {
		if err := w.ProcessOneBatchWriteMessage(msg); err != nil {
			Logger.Log.Errorf("fail to process one batch write message. err: %s , message: %s", err, *msg.Message)
			continue
		}
		successCount++
		if err := w.Reader.DeleteMessage(msg); err != nil {
			Logger.Log.Errorf("fail to delete message from queue: %s", *msg.Message)
		}
	}
	return successCount
}

func (w *BatchWriteWorker) ProcessOneBatchWriteMessage(qmsg *utils.MessageQueueMessage) error {
	body, err := qmsg.Read()
	if err != nil {
		return err
	}
	msg, err := protocol.DecodeBatchWriteMessage(body)
	if err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		// Upstream contract violation. Surface it so the dead-letter policy
		// applies; retrying blindly would loop on a bug, dropping would hide it.
		return errors.Wrap(err, "rejecting batch write job")
	}

	entries := feedcache.EntriesForViewers(msg.Post, msg.TargetViewerIds)
	dropped, err := w.Writer.Write(entries)
	if err != nil {
		// Non-throttle store failure; let the transport redeliver the job.
		return errors.Wrap(err, "fail to write feed entries")
	}
	if dropped > 0 {
		Logger.Log.Errorf(
			"batch %d for post %s accepted with %d of %d entries dropped",
			msg.BatchSequenceNumber, msg.Post.PostId, dropped, len(entries),
		)
	}
	w.Statsd.Count("feedfanout.worker.entries_written", int64(len(entries)-dropped), nil, 1)

	return nil
}
