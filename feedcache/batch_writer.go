package feedcache

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/model"
	Logger "github.com/Nexkiv/feedfanout/utils/log"
)

// BatchWriter executes a chunked write against the feed cache with bounded
// retry on throttling. Items still unprocessed after MaxAttempts calls are
// logged and dropped: the feed cache is a read optimization, not the system
// of record, and the reconciliation job is the compensating control for the
// aggregate counters. Do not change the drop into a hard failure; blocking
// the post-publish path on sustained throttling is the worse trade.
type BatchWriter struct {
	Store       BatchPutter
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Statsd      statsd.ClientInterface

	// Injectable for tests.
	sleep func(time.Duration)
}

func NewBatchWriter(store BatchPutter, setting app_setting.PipelineAppSetting, client statsd.ClientInterface) *BatchWriter {
	return &BatchWriter{
		Store:       store,
		MaxAttempts: setting.BATCH_WRITE_MAX_ATTEMPTS,
		BackoffBase: time.Duration(setting.BACKOFF_BASE_MS) * time.Millisecond,
		BackoffCap:  time.Duration(setting.BACKOFF_CAP_MS) * time.Millisecond,
		Statsd:      client,
		sleep:       time.Sleep,
	}
}

// Write puts all entries into the store, chunked at the store's per-call
// limit. Returns the number of entries dropped after exhausted retries.
// A non-nil error means a non-throttle store failure; the caller should let
// the transport redeliver the whole job, which is safe because the write is
// idempotent.
func (w *BatchWriter) Write(entries []model.FeedEntry) (int, error) {
	dropped := 0
	for _, chunk := range ChunkEntries(entries, w.Store.BatchLimit()) {
		n, err := w.writeChunk(chunk)
		dropped += n
		if err != nil {
			return dropped, err
		}
	}
	if dropped > 0 {
		w.Statsd.Count("feedfanout.batch_writer.dropped", int64(dropped), nil, 1)
	}
	return dropped, nil
}

func (w *BatchWriter) writeChunk(chunk []model.FeedEntry) (int, error) {
	pending := chunk
	for attempt := 1; ; attempt++ {
		unprocessed, err := w.Store.BatchPut(pending)
		if err != nil {
			return 0, err
		}
		if len(unprocessed) == 0 {
			return 0, nil
		}
		if attempt >= w.MaxAttempts {
			// Accepted partial failure: log and drop.
			Logger.Log.Errorf(
				"dropping %d of %d feed entries after %d attempts",
				len(unprocessed), len(chunk), attempt,
			)
			return len(unprocessed), nil
		}

		backoff := w.backoffFor(attempt)
		Logger.Log.Warnf(
			"store left %d of %d feed entries unprocessed on attempt %d, retrying in %v",
			len(unprocessed), len(chunk), attempt, backoff,
		)
		w.Statsd.Incr("feedfanout.batch_writer.retry", nil, 1)
		w.sleep(backoff)
		pending = unprocessed
	}
}

// backoffFor doubles from BackoffBase per completed attempt, capped at
// BackoffCap, so elapsed backoff is non-decreasing across attempts.
func (w *BatchWriter) backoffFor(attempt int) time.Duration {
	d := w.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.BackoffCap {
			return w.BackoffCap
		}
	}
	if d > w.BackoffCap {
		return w.BackoffCap
	}
	return d
}
