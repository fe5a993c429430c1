package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/audiosutras/feedbot/engine"
	"github.com/audiosutras/feedbot/ops"
	"github.com/audiosutras/feedbot/publisher"
	Logger "github.com/audiosutras/feedbot/utils/log"
)

type BroadcastCycleConfig struct {
	Name     string
	Interval time.Duration
}

// BroadcastCycle periodically sends the support notice to every channel that
// holds any subscription, once per channel per tick. Unlike the poll cycles
// it waits a full interval before the first send, so a restart never spams
// subscribers.
type BroadcastCycle struct {
	Config BroadcastCycleConfig

	dispatcher *publisher.Dispatcher
	alerter    *ops.Alerter

	ready <-chan struct{}

	EventBus *gochannel.GoChannel
}

func NewBroadcastCycle(
	config BroadcastCycleConfig,
	dispatcher *publisher.Dispatcher,
	alerter *ops.Alerter,
	ready <-chan struct{},
	e *gochannel.GoChannel,
) *BroadcastCycle {
	return &BroadcastCycle{
		Config:     config,
		dispatcher: dispatcher,
		alerter:    alerter,
		ready:      ready,
		EventBus:   e,
	}
}

func (m *BroadcastCycle) RunModule(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-m.ready:
	}

	ticker := time.NewTicker(m.Config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *BroadcastCycle) tick() {
	start := time.Now()
	report := engine.CycleReport{
		CycleId:   uuid.NewString(),
		Module:    m.Name(),
		StartedAt: start,
	}

	sent, err := m.dispatcher.Broadcast(publisher.RenderBroadcast())
	report.ItemsDelivered = sent
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		m.alerter.Alert(fmt.Sprintf("broadcast failed: %v", err))
	}

	report.DurationMs = time.Since(start).Milliseconds()
	if err := engine.PublishCycleReport(m.EventBus, &report); err != nil {
		Logger.Log.Errorf("fail to publish cycle report: %v", err)
	}
}

func (m *BroadcastCycle) Name() string {
	return m.Config.Name
}

func (m *BroadcastCycle) Shutdown() {}

var _ engine.Module = (*BroadcastCycle)(nil)
