package modules

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/audiosutras/feedbot/engine"
	Logger "github.com/audiosutras/feedbot/utils/log"
)

type ReporterConfig struct {
	Name string
}

// Reporter consumes every cycle report off the event bus and turns it into
// log lines and Datadog series. With a nil statsd client (local runs, tests)
// it degrades to logging only.
type Reporter struct {
	Config ReporterConfig

	statsdClient *statsd.Client

	EventBus *gochannel.GoChannel
}

func NewReporter(config ReporterConfig, statsdClient *statsd.Client, e *gochannel.GoChannel) *Reporter {
	return &Reporter{
		Config:       config,
		statsdClient: statsdClient,
		EventBus:     e,
	}
}

func (m *Reporter) RunModule(ctx context.Context) error {
	messages, err := m.EventBus.Subscribe(ctx, engine.TopicCycleReport)
	if err != nil {
		return err
	}

	for msg := range messages {
		var report engine.CycleReport
		if err := json.Unmarshal(msg.Payload, &report); err != nil {
			Logger.Log.Errorf("fail to parse cycle report %s: %v", msg.UUID, err)
			msg.Ack()
			continue
		}

		m.processReport(&report)
		msg.Ack()
	}
	return nil
}

func (m *Reporter) processReport(report *engine.CycleReport) {
	Logger.Log.WithFields(map[string]interface{}{
		"cycle_id":        report.CycleId,
		"module":          report.Module,
		"duration_ms":     report.DurationMs,
		"sources_planned": report.SourcesPlanned,
		"sources_failed":  report.SourcesFailed,
		"items_ingested":  report.ItemsIngested,
		"items_delivered": report.ItemsDelivered,
	}).Info("cycle finished")

	if m.statsdClient == nil {
		return
	}

	tags := []string{"cycle_module:" + report.Module}
	m.statsdClient.Count("feedbot.cycle.sources_planned", int64(report.SourcesPlanned), tags, 1)
	m.statsdClient.Count("feedbot.cycle.sources_failed", int64(report.SourcesFailed), tags, 1)
	m.statsdClient.Count("feedbot.cycle.items_ingested", int64(report.ItemsIngested), tags, 1)
	m.statsdClient.Count("feedbot.cycle.items_delivered", int64(report.ItemsDelivered), tags, 1)
	m.statsdClient.Timing("feedbot.cycle.duration", time.Duration(report.DurationMs)*time.Millisecond, tags, 1)
}

func (m *Reporter) Name() string {
	return m.Config.Name
}

func (m *Reporter) Shutdown() {
	if m.statsdClient != nil {
		m.statsdClient.Flush()
	}
}

var _ engine.Module = (*Reporter)(nil)
