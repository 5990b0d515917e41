//go:build windows

// Package service provides Windows Service integration.
// When running as a Windows service, the agent enters the SCM control loop.
// When running from a terminal, it runs in the foreground.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

const serviceName = "VitalisAgent"

// AgentService implements the Windows service interface (svc.Handler).
type AgentService struct {
	logger      *zap.Logger
	stopTimeout time.Duration
	run         func(ctx context.Context) error
}

// New creates a service wrapper. run is called with a context that is
// cancelled when the SCM asks the service to stop; the service waits up to
// stopTimeout for run to return.
func New(logger *zap.Logger, stopTimeout time.Duration, run func(ctx context.Context) error) *AgentService {
	return &AgentService{
		logger:      logger,
		stopTimeout: stopTimeout,
		run:         run,
	}
}

// IsWindowsService checks if the process is running as a Windows service.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run starts the Windows service control loop.
func (s *AgentService) Run() error {
	return svc.Run(serviceName, s)
}

// Execute implements the svc.Handler interface for Windows SCM integration.
func (s *AgentService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	s.logger.Info("Windows service started")

	for {
		select {
		case err := <-done:
			// The agent stopped on its own.
			if err != nil {
				s.logger.Error("Agent exited", zap.Error(err))
				return true, 1
			}
			return false, 0

		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				s.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending, WaitHint: uint32(s.stopTimeout / time.Millisecond)}
				cancel()
				select {
				case err := <-done:
					if err != nil {
						s.logger.Error("Agent exited with error", zap.Error(err))
					}
				case <-time.After(s.stopTimeout):
					s.logger.Warn("Agent did not stop in time", zap.Duration("timeout", s.stopTimeout))
				}
				return false, 0
			default:
				s.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
