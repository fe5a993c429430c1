package engine

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// TopicCycleReport carries one CycleReport per finished cycle tick, consumed
// by the reporter module.
const TopicCycleReport = "cycle.report"

// CycleReport is the summary a cycle module publishes after every tick,
// successful or not. Errors holds one message per failed source; sibling
// sources still count toward the other fields since per-source failures
// never abort a cycle.
type CycleReport struct {
	CycleId        string    `json:"cycle_id"`
	Module         string    `json:"module"`
	StartedAt      time.Time `json:"started_at"`
	DurationMs     int64     `json:"duration_ms"`
	SourcesPlanned int       `json:"sources_planned"`
	SourcesFailed  int       `json:"sources_failed"`
	ItemsIngested  int       `json:"items_ingested"`
	ItemsDelivered int       `json:"items_delivered"`
	Errors         []string  `json:"errors,omitempty"`
}

// PublishCycleReport serializes the report onto the event bus. Reports are
// fire-and-forget; a full bus should never stall a cycle.
func PublishCycleReport(bus *gochannel.GoChannel, report *CycleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return bus.Publish(TopicCycleReport, message.NewMessage(watermill.NewUUID(), data))
}
