package main

import (
	"os"
	"time"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/fanout"
	"github.com/Nexkiv/feedfanout/feedcache"
	"github.com/Nexkiv/feedfanout/utils"
	"github.com/Nexkiv/feedfanout/utils/dotenv"
	feedflag "github.com/Nexkiv/feedfanout/utils/flag"
	Logger "github.com/Nexkiv/feedfanout/utils/log"
)

const (
	queueReadTimeoutSec = 20
	readBatchSize       = 10
)

func main() {
	feedflag.Parse()

	if err := dotenv.LoadDotEnvs(); err != nil {
		Logger.Log.Fatal("fail to load env : ", err)
	}
	Logger.InitLogger()

	setting := app_setting.DefaultPipelineAppSetting()
	if path := os.Getenv("APP_SETTING_PATH"); path != "" {
		setting = app_setting.ParsePipelineAppSetting(path)
	}

	batchQueue, err := utils.NewSQSMessageQueue(utils.NewSQSClient(), setting.BATCH_WRITE_QUEUE_NAME, queueReadTimeoutSec)
	if err != nil {
		Logger.Log.Fatal("fail to initialize batch write queue : ", err)
	}

	statsdClient, err := statsd.New("127.0.0.1:8125")
	if err != nil {
		Logger.Log.Fatal("fail to initialize statsd client : ", err)
	}

	store := feedcache.NewStore(utils.NewDynamoClient(), setting.FEED_TABLE_NAME)
	writer := feedcache.NewBatchWriter(store, setting, statsdClient)
	worker := fanout.NewBatchWriteWorker(batchQueue, writer, statsdClient)

	for {
		worker.ReadAndProcessMessages(readBatchSize)

		// Protective delay
		time.Sleep(2 * time.Second)
	}
}
