package engine

import (
	"context"
	"time"

	Logger "github.com/audiosutras/feedbot/utils/log"
)

const (
	GracefulRetryDelay = 3
)

// Module is one independently running unit of the bot: a poll cycle, the
// broadcast cycle, the reporter. Modules run in their own goroutine for the
// lifetime of the engine and are isolated from each other: one module
// crashing out with an error is restarted without touching its siblings.
type Module interface {
	// RunModule contains the customized logic of the module. It takes in a
	// context object by which its lifecycle is managed. Return error if
	// encountered any error during execution.
	RunModule(ctx context.Context) error

	// Return name of the Module. Uniquely identifies the module instance.
	Name() string

	// Shutdown releases whatever the module holds. Called once during engine
	// shutdown, after the root context is canceled.
	Shutdown()
}

// RunModuleWithGracefulRestart keeps a module alive: any error return gets
// logged and the module restarts after a small delay. A nil return is a
// deliberate exit and ends the loop.
func RunModuleWithGracefulRestart(ctx context.Context, module Module) {
	for {
		err := module.RunModule(ctx)
		if err == nil {
			break
		}
		Logger.Log.Errorf(
			"module %s exited with error %v, retry in %d seconds",
			module.Name(),
			err,
			GracefulRetryDelay)

		// Wait for a small amount of time and restart.
		time.Sleep(GracefulRetryDelay * time.Second)
	}
}
