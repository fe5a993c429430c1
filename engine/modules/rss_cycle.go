package modules

import (
	"context"
	"fmt"
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

type RSSCycleConfig struct {
	Name     string
	Interval time.Duration
}

// RSSCycle is the feed poll loop: fetch every distinct subscribed feed URL
// once, ingest what's unseen, and fan new entries out to every channel
// subscribed to their feed. A feed is fetched once per tick no matter how
// many channels subscribe to it.
type RSSCycle struct {
	Config RSSCycleConfig

	store      *subscription.Store
	collector  *collector.RSSCollector
	ingester   *ingest.Engine
	dispatcher *publisher.Dispatcher
	alerter    *ops.Alerter

	ready <-chan struct{}

	EventBus *gochannel.GoChannel
}

func NewRSSCycle(
	config RSSCycleConfig,
	store *subscription.Store,
	rssCollector *collector.RSSCollector,
	ingester *ingest.Engine,
	dispatcher *publisher.Dispatcher,
	alerter *ops.Alerter,
	ready <-chan struct{},
	e *gochannel.GoChannel,
) *RSSCycle {
	return &RSSCycle{
		Config:     config,
		store:      store,
		collector:  rssCollector,
		ingester:   ingester,
		dispatcher: dispatcher,
		alerter:    alerter,
		ready:      ready,
		EventBus:   e,
	}
}

func (m *RSSCycle) RunModule(ctx context.Context) error {
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

func (m *RSSCycle) tick(ctx context.Context) {
	start := time.Now()
	report := engine.CycleReport{
		CycleId:   uuid.NewString(),
		Module:    m.Name(),
		StartedAt: start,
	}

	feedUrls, err := m.store.DistinctFeedUrls()
	if err != nil {
		Logger.Log.Errorf("fail to plan rss cycle: %v", err)
		report.Errors = append(report.Errors, err.Error())
		m.publishReport(&report, start)
		return
	}
	report.SourcesPlanned = len(feedUrls)

	fetches, failures := m.collector.FetchAll(feedUrls)
	report.SourcesFailed = len(failures)
	for _, failure := range failures {
		report.Errors = append(report.Errors, failure.Err.Error())
		m.surfaceFailure(failure)
	}

	for _, fetch := range fetches {
		if ctx.Err() != nil {
			return
		}

		inserted, err := m.ingester.IngestFeedEntries(fetch.RequestedUrl, fetch.Info.Image, fetch.Entries)
		report.ItemsIngested += len(inserted)
		if err != nil {
			Logger.Log.Errorf("fail to ingest entries for %s: %v", fetch.RequestedUrl, err)
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		delivered, err := m.dispatcher.DispatchFeedEntries(fetch.RequestedUrl, inserted)
		report.ItemsDelivered += delivered
		if err != nil {
			Logger.Log.Errorf("fail to dispatch entries for %s: %v", fetch.RequestedUrl, err)
			report.Errors = append(report.Errors, err.Error())
		}
	}

	m.publishReport(&report, start)
}

// surfaceFailure routes a broken feed to whoever can act on it. Feeds that
// are gone or no longer parse are told to their subscribers, credential
// problems go to the operator, and transient transport errors are only
// logged since the next tick retries anyway.
func (m *RSSCycle) surfaceFailure(failure collector.FetchFailure) {
	switch collector.KindOf(failure.Err) {
	case collector.ErrorNotFound, collector.ErrorMalformed:
		channels, err := m.store.ChannelsForFeed(failure.FeedUrl)
		if err != nil {
			Logger.Log.Errorf("fail to resolve subscribers of broken feed %s: %v", failure.FeedUrl, err)
			return
		}
		for _, channelId := range channels {
			m.dispatcher.NotifySourceError(channelId, fmt.Sprintf("**%v**", failure.Err))
		}
	case collector.ErrorAuth:
		m.alerter.Alert(fmt.Sprintf("feed %s rejected our request: %v", failure.FeedUrl, failure.Err))
	default:
		Logger.Log.Warnf("transient failure fetching %s: %v", failure.FeedUrl, failure.Err)
	}
}

func (m *RSSCycle) publishReport(report *engine.CycleReport, start time.Time) {
	report.DurationMs = time.Since(start).Milliseconds()
	if err := engine.PublishCycleReport(m.EventBus, report); err != nil {
		Logger.Log.Errorf("fail to publish cycle report: %v", err)
	}
}

func (m *RSSCycle) Name() string {
	return m.Config.Name
}

func (m *RSSCycle) Shutdown() {}

var _ engine.Module = (*RSSCycle)(nil)
