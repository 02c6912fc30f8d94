package app_setting

import (
	"io/ioutil"
	"log"

	"gopkg.in/yaml.v2"
)

// This is the tuning config for the fan-out feed-caching pipeline.
type PipelineAppSetting struct {
	// Number of followers fetched per fan-out step. One full page triggers a
	// self-re-enqueue instead of an in-process loop.
	FOLLOWER_PAGE_SIZE int `yaml:"FOLLOWER_PAGE_SIZE"`
	// Upper bound on targetViewerIds per batch write message. Defaults to
	// FOLLOWER_PAGE_SIZE so one page emits one message.
	MAX_TARGETS_PER_MESSAGE int `yaml:"MAX_TARGETS_PER_MESSAGE"`
	// Hard per-call item limit of the feed cache store. DynamoDB BatchWriteItem
	// accepts at most 25 items.
	STORE_BATCH_LIMIT int `yaml:"STORE_BATCH_LIMIT"`
	// Max batched-put calls per chunk before remaining unprocessed items are
	// logged and dropped.
	BATCH_WRITE_MAX_ATTEMPTS int `yaml:"BATCH_WRITE_MAX_ATTEMPTS"`
	// Exponential backoff between batched-put retries, milliseconds.
	BACKOFF_BASE_MS int64 `yaml:"BACKOFF_BASE_MS"`
	BACKOFF_CAP_MS  int64 `yaml:"BACKOFF_CAP_MS"`
	// Fixed inter-item delay in the reconciliation job, milliseconds, to
	// respect store throughput limits.
	RECONCILE_ITEM_DELAY_MS int64 `yaml:"RECONCILE_ITEM_DELAY_MS"`
	// Number of retry passes the offline jobs run over items that failed,
	// before reporting them by id for manual follow-up.
	JOB_RETRY_PASSES int `yaml:"JOB_RETRY_PASSES"`
	// Queue and table names.
	FANOUT_QUEUE_NAME      string `yaml:"FANOUT_QUEUE_NAME"`
	BATCH_WRITE_QUEUE_NAME string `yaml:"BATCH_WRITE_QUEUE_NAME"`
	FEED_TABLE_NAME        string `yaml:"FEED_TABLE_NAME"`
}

// DefaultPipelineAppSetting returns the settings the pipeline ships with.
func DefaultPipelineAppSetting() PipelineAppSetting {
	return PipelineAppSetting{
		FOLLOWER_PAGE_SIZE:       100,
		MAX_TARGETS_PER_MESSAGE:  100,
		STORE_BATCH_LIMIT:        25,
		BATCH_WRITE_MAX_ATTEMPTS: 3,
		BACKOFF_BASE_MS:          1000,
		BACKOFF_CAP_MS:           5000,
		RECONCILE_ITEM_DELAY_MS:  50,
		JOB_RETRY_PASSES:         3,
		FANOUT_QUEUE_NAME:        "feedfanout_fanout_queue",
		BATCH_WRITE_QUEUE_NAME:   "feedfanout_batch_write_queue",
		FEED_TABLE_NAME:          "cached_feed",
	}
}

func ParsePipelineAppSetting(path string) PipelineAppSetting {
	c := DefaultPipelineAppSetting()
	yamlFile, err := ioutil.ReadFile(path)
	if err != nil {
		log.Fatal("yamlFile. get err: ", err.Error())
	}
	err = yaml.Unmarshal(yamlFile, &c)
	if err != nil {
		log.Fatal("Unmarshal: ", err)
	}
	return c
}
