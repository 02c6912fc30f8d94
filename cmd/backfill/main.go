package main

import (
	"os"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/Nexkiv/feedfanout/app_setting"
	"github.com/Nexkiv/feedfanout/directory"
	"github.com/Nexkiv/feedfanout/feedcache"
	"github.com/Nexkiv/feedfanout/jobs"
	"github.com/Nexkiv/feedfanout/utils"
	"github.com/Nexkiv/feedfanout/utils/dotenv"
	feedflag "github.com/Nexkiv/feedfanout/utils/flag"
	Logger "github.com/Nexkiv/feedfanout/utils/log"
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

	statsdClient, err := statsd.New("127.0.0.1:8125")
	if err != nil {
		Logger.Log.Fatal("fail to initialize statsd client : ", err)
	}

	store := feedcache.NewStore(utils.NewDynamoClient(), setting.FEED_TABLE_NAME)
	writer := feedcache.NewBatchWriter(store, setting, statsdClient)

	backfiller := jobs.NewBackfiller(
		directory.NewPostStore(db),
		directory.NewUserDirectory(db),
		directory.NewFollowDirectory(db),
		writer,
		setting,
		statsdClient,
	)

	summary, err := backfiller.Run()
	if err != nil {
		Logger.Log.Error("backfill run failed : ", err)
		os.Exit(1)
	}

	Logger.Log.Infof(
		"backfill summary: posts=%d written=%d dropped=%d errored=%d failed_post_ids=%v",
		summary.PostsProcessed, summary.EntriesWritten, summary.EntriesDropped, summary.Errored, summary.FailedPostIds,
	)
	if summary.Errored > 0 {
		os.Exit(1)
	}
}
