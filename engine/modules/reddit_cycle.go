package modules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/audiosutras/feedbot/collector"
	"github.com/audiosutras/feedbot/engine"
	"github.com/audiosutras/feedbot/ingest"
	"github.com/audiosutras/feedbot/ops"
	"github.com/audiosutras/feedbot/publisher"
	"github.com/audiosutras/feedbot/subscription"
	Logger "github.com/audiosutras/feedbot/utils/log"
)

type RedditCycleConfig struct {
	Name string

	// Interval between ticks. A tick still running when the next is due makes
	// the next one wait; the loop is a single timer, never re-entrant.
	Interval time.Duration

	// MaxConcurrentFetches bounds how many channel listing requests are in
	// flight at once within one tick.
	MaxConcurrentFetches int
}

// RedditCycle is the subreddit poll loop: per channel, fetch the combined
// "new" listing for its subreddits, ingest what's unseen, then deliver every
// pending post store-wide. A failure on one channel's sources never aborts
// the others; the per-source error is surfaced to that channel instead.
type RedditCycle struct {
	Config RedditCycleConfig

	store      *subscription.Store
	collector  *collector.RedditCollector
	ingester   *ingest.Engine
	dispatcher *publisher.Dispatcher
	alerter    *ops.Alerter

	// ready gates the first tick until the Discord session is logged in.
	ready <-chan struct{}

	EventBus *gochannel.GoChannel
}

func NewRedditCycle(
	config RedditCycleConfig,
	store *subscription.Store,
	redditCollector *collector.RedditCollector,
	ingester *ingest.Engine,
	dispatcher *publisher.Dispatcher,
	alerter *ops.Alerter,
	ready <-chan struct{},
	e *gochannel.GoChannel,
) *RedditCycle {
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = 4
	}
	return &RedditCycle{
		Config:     config,
		store:      store,
		collector:  redditCollector,
		ingester:   ingester,
		dispatcher: dispatcher,
		alerter:    alerter,
		ready:      ready,
		EventBus:   e,
	}
}

func (m *RedditCycle) RunModule(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-m.ready:
	}

	m.tick(ctx)

	ticker := time.NewTicker(m.Config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *RedditCycle) tick(ctx context.Context) {
	start := time.Now()
	report := engine.CycleReport{
		CycleId:   uuid.NewString(),
		Module:    m.Name(),
		StartedAt: start,
	}

	plan, err := m.store.SubredditsByChannel()
	if err != nil {
		Logger.Log.Errorf("fail to plan reddit cycle: %v", err)
		report.Errors = append(report.Errors, err.Error())
		m.publishReport(&report, start)
		return
	}
	report.SourcesPlanned = len(plan)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, m.Config.MaxConcurrentFetches)
	)
	for channelId, subreddits := range plan {
		wg.Add(1)
		go func(channelId string, subreddits []string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			inserted, err := m.pollChannel(channelId, subreddits)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.SourcesFailed++
				report.Errors = append(report.Errors, err.Error())
			}
			report.ItemsIngested += inserted
		}(channelId, subreddits)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	delivered, err := m.dispatcher.DispatchPendingRedditPosts()
	if err != nil {
		Logger.Log.Errorf("fail to dispatch pending posts: %v", err)
		report.Errors = append(report.Errors, err.Error())
	}
	report.ItemsDelivered = delivered

	m.publishReport(&report, start)
}

// pollChannel runs the fetch→ingest sequence for one channel's subreddits,
// keeping everything source-local. Fetch errors are classified and surfaced:
// auth problems go to the operator, everything else to the subscribing
// channel.
func (m *RedditCycle) pollChannel(channelId string, subreddits []string) (int, error) {
	posts, err := m.collector.FetchNew(channelId, subreddits)
	if err != nil {
		switch collector.KindOf(err) {
		case collector.ErrorAuth:
			m.alerter.Alert(fmt.Sprintf("reddit credentials rejected while polling for channel %s: %v", channelId, err))
		default:
			m.dispatcher.NotifySourceError(channelId, fmt.Sprintf("**%v**", err))
		}
		return 0, err
	}

	inserted, err := m.ingester.IngestRedditPosts(posts)
	if err != nil {
		return len(inserted), err
	}
	return len(inserted), nil
}

func (m *RedditCycle) publishReport(report *engine.CycleReport, start time.Time) {
	report.DurationMs = time.Since(start).Milliseconds()
	if err := engine.PublishCycleReport(m.EventBus, report); err != nil {
		Logger.Log.Errorf("fail to publish cycle report: %v", err)
	}
}

func (m *RedditCycle) Name() string {
	return m.Config.Name
}

func (m *RedditCycle) Shutdown() {}

var _ engine.Module = (*RedditCycle)(nil)
