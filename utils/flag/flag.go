/*
flag Package set up cli flags shared across services

Usage:

	Flags listed in this package are shared across boundaries and service-agnostic
	For service dependent flags please define in their respective package
	Parse() must be called once at the top of each main
*/

package flag

import (
	"flag"
)

const (
	FanOutWorker    = "fanout_worker"
	FeedWriteWorker = "feed_write_worker"
	ReconcilerJob   = "reconciler"
	BackfillJob     = "backfill"
)

var (
	IsDevelopment bool
	ServiceName   string
)

func init() {
	flag.BoolVar(&IsDevelopment, "dev", true, "set to true if the current run is for development. default value is true")
	flag.StringVar(&ServiceName, "service", FanOutWorker, "'fanout_worker', 'feed_write_worker', 'reconciler' or 'backfill'")
}

// Parse parses the shared flags. Kept out of init so importing this package
// from a test binary doesn't swallow the -test.* flags.
func Parse() {
	flag.Parse()
}
