/*
flag Package set up cli flags shared across the binary

Usage:

	Flags listed in this package are shared across boundaries and
	service-agnostic. For service dependent flags please define in their
	respective package.
*/
package flag

import (
	"flag"
)

const (
	FeedBot = "feed_bot"
)

var (
	IsDevelopment bool
	ServiceName   string
)

func init() {
	flag.BoolVar(&IsDevelopment, "dev", true, "set to true if the current run is for development. default value is true")
	flag.StringVar(&ServiceName, "service", FeedBot, "name this process reports itself as in logs and metrics")
}

// ParseFlags must be called once in main after all packages had the chance to
// register their own flags.
func ParseFlags() {
	flag.Parse()
}
