package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"

	"github.com/audiosutras/feedbot/bot"
	"github.com/audiosutras/feedbot/collector"
	"github.com/audiosutras/feedbot/engine"
	"github.com/audiosutras/feedbot/engine/modules"
	"github.com/audiosutras/feedbot/ingest"
	"github.com/audiosutras/feedbot/ops"
	"github.com/audiosutras/feedbot/publisher"
	"github.com/audiosutras/feedbot/subscription"
	"github.com/audiosutras/feedbot/utils"
	"github.com/audiosutras/feedbot/utils/dotenv"
	. "github.com/audiosutras/feedbot/utils/flag"
	. "github.com/audiosutras/feedbot/utils/log"
)

func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

// NewDogStatsdClient connects to the local Datadog agent. Returns nil when
// the agent is not reachable, which downgrades the reporter to log-only.
func NewDogStatsdClient() *statsd.Client {
	addr := os.Getenv("STATSD_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8125"
	}
	client, err := statsd.New(addr)
	if err != nil {
		Log.Warnf("statsd agent not reachable at %s, metrics disabled: %v", addr, err)
		return nil
	}
	return client
}

// pollInterval resolves the subreddit/feed poll cadence. Production defaults
// to hourly; development polls every minute for fast iteration.
func pollInterval() time.Duration {
	if v := os.Getenv("POLL_INTERVAL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
		Log.Warnf("ignoring invalid POLL_INTERVAL_MINUTES value %q", v)
	}
	if dotenv.IsProdEnv() {
		return 60 * time.Minute
	}
	return time.Minute
}

// broadcastInterval resolves the support notice cadence, 12h in production
// and hourly in development.
func broadcastInterval() time.Duration {
	if v := os.Getenv("BROADCAST_INTERVAL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			return time.Duration(hours) * time.Hour
		}
		Log.Warnf("ignoring invalid BROADCAST_INTERVAL_HOURS value %q", v)
	}
	if dotenv.IsProdEnv() {
		return 12 * time.Hour
	}
	return time.Hour
}

// runHealthServer serves the liveness probe and the read-only subscription
// export endpoint used by backups.
func runHealthServer(store *subscription.Store) {
	addr := os.Getenv("HEALTHCHECK_ADDR")
	if addr == "" {
		addr = ":9090"
	}

	if dotenv.IsProdEnv() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/export/:channel_id", func(c *gin.Context) {
		export, err := store.Export(c.Param("channel_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "export failed"})
			return
		}
		c.String(http.StatusOK, export)
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Feed bot - API not found"})
	})

	if err := router.Run(addr); err != nil {
		Log.Errorf("health server stopped: %v", err)
	}
}

func main() {
	ParseFlags()
	InitLogger()

	db, err := utils.GetDBConnection()
	if err != nil {
		panic("failed to connect to database")
	}
	if err := utils.DatabaseSetupAndMigration(db); err != nil {
		panic(err)
	}

	store := subscription.NewStore(db)
	ingester := ingest.NewEngine(db)
	redditCollector := collector.NewRedditCollectorFromEnv()
	rssCollector := collector.NewRSSCollector(os.Getenv("FEED_USER_AGENT"))
	alerter := ops.NewAlerterFromEnv()

	session, err := bot.NewSession(os.Getenv("BOT_TOKEN"))
	if err != nil {
		panic(err)
	}
	dispatcher := publisher.NewDispatcher(db, store, session)
	bot.NewCommander(session, store, redditCollector, rssCollector, ingester).Register()

	if err := session.Open(); err != nil {
		panic(err)
	}
	defer session.Close()

	eventbus := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            100,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewStdLogger(false, false),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize all engine modules here.
	engineModules := []engine.Module{
		// Reporter turns cycle reports into logs and datadog metrics.
		modules.NewReporter(modules.ReporterConfig{Name: "reporter"}, NewDogStatsdClient(), eventbus),
		// RedditCycle polls subreddit listings per subscribed channel.
		modules.NewRedditCycle(
			modules.RedditCycleConfig{Name: "reddit_cycle", Interval: pollInterval()},
			store, redditCollector, ingester, dispatcher, alerter, session.Ready(), eventbus,
		),
		// RSSCycle polls every distinct subscribed feed.
		modules.NewRSSCycle(
			modules.RSSCycleConfig{Name: "rss_cycle", Interval: pollInterval()},
			store, rssCollector, ingester, dispatcher, alerter, session.Ready(), eventbus,
		),
		// BroadcastCycle sends the periodic support notice.
		modules.NewBroadcastCycle(
			modules.BroadcastCycleConfig{Name: "broadcast_cycle", Interval: broadcastInterval()},
			dispatcher, alerter, session.Ready(), eventbus,
		),
	}

	e := engine.NewEngine(engineModules, eventbus)

	go runHealthServer(store)

	// Cancel the root context on SIGINT/SIGTERM so every module winds down.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		Log.Infoln("received shutdown signal")
		cancel()
	}()

	// blocking call.
	e.Run(ctx)
	e.Shutdown()

	Log.Infoln("engine stopped execution.")
}
