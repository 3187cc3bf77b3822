package pipeline

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChaoticNebula5/Janmitra/internal/log"
)

// Runner drives tasks. With HandleSignals set, SIGINT and SIGTERM cancel the
// running task; otherwise the host process owns signal handling.
type Runner struct {
	HandleSignals bool
}

func NewRunner(handleSignals bool) *Runner {
	return &Runner{HandleSignals: handleSignals}
}

// Run blocks until the task finishes.
func (r *Runner) Run(ctx context.Context, t *Task) error {
	if r.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case sig := <-sigCh:
				log.Info("signal received, cancelling task", "signal", sig.String())
				t.Cancel()
			case <-done:
			}
		}()
	}
	return t.Run(ctx)
}
