package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// RunForeground executes the agent with a context cancelled on SIGINT or
// SIGTERM.
func (s *AgentService) RunForeground() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("Received signal, shutting down")
		case <-finished:
		}
	}()
	return s.run(ctx)
}
