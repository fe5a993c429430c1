// Package engine manages shared resources and execution lifecycle of the
// bot's long-running modules. Modules communicate over a shared in-process
// event bus; for now a golang channel implementation, which could be swapped
// for a broker-backed bus if the bot ever outgrows one process.
package engine

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	Logger "github.com/audiosutras/feedbot/utils/log"
)

type Engine struct {
	// A list of modules that will be run in this Engine. Module's lifetime is
	// bound to Engine's lifetime. Each Module will be ran in a separate
	// routine.
	Modules []Module

	// The EventBus this engine managed.
	EventBus *gochannel.GoChannel
}

// Create a new Engine given the provided modules and event bus.
func NewEngine(ms []Module, e *gochannel.GoChannel) *Engine {
	return &Engine{
		Modules:  ms,
		EventBus: e,
	}
}

// Execute all Engine modules and wait untils all modules finish execution,
// which happens after the passed-in context gets canceled.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for idx := range e.Modules {
		wg.Add(1)
		go func(index int) {
			Logger.Log.Infof("start engine module %s", e.Modules[index].Name())
			defer wg.Done()
			RunModuleWithGracefulRestart(ctx, e.Modules[index])
			Logger.Log.Infof("module %s finished execution", e.Modules[index].Name())
		}(idx)
	}

	// Block until all goroutine finished execution.
	wg.Wait()
}

func (e *Engine) Shutdown() {
	Logger.Log.Infoln("starting graceful shutdown process, goodbye!")

	var wg sync.WaitGroup
	for idx := range e.Modules {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			e.Modules[index].Shutdown()
			Logger.Log.Infof("module %s shut down", e.Modules[index].Name())
		}(idx)
	}

	// Block until all goroutine finished execution.
	wg.Wait()

	e.EventBus.Close()
}
