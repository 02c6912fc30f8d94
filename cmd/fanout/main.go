package main

import (
	"os"
	"time"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/directory"
	"github.com/Nexkiv/feedfanout/fanout"
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

	db, err := utils.GetDBConnection()
	if err != nil {
		Logger.Log.Fatal("fail to connect database : ", err)
	}

	sqsClient := utils.NewSQSClient()
	fanOutQueue, err := utils.NewSQSMessageQueue(sqsClient, setting.FANOUT_QUEUE_NAME, queueReadTimeoutSec)
	if err != nil {
		Logger.Log.Fatal("fail to initialize fan-out queue : ", err)
	}
	batchQueue, err := utils.NewSQSMessageQueue(sqsClient, setting.BATCH_WRITE_QUEUE_NAME, queueReadTimeoutSec)
	if err != nil {
		Logger.Log.Fatal("fail to initialize batch write queue : ", err)
	}

	statsdClient, err := statsd.New("127.0.0.1:8125")
	if err != nil {
		Logger.Log.Fatal("fail to initialize statsd client : ", err)
	}

	coordinator := fanout.NewFanOutCoordinator(
		fanOutQueue,
		fanOutQueue,
		batchQueue,
		directory.NewFollowDirectory(db),
		directory.NewUserDirectory(db),
		setting,
		statsdClient,
	)

	for {
		coordinator.ReadAndProcessMessages(readBatchSize)

		// Protective delay
		time.Sleep(2 * time.Second)
	}
}
