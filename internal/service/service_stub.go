//go:build !windows

// Package service runs the agent under the host's process manager. On macOS
// and Linux the agent is a plain foreground process stopped by SIGINT or
// SIGTERM (launchd and systemd both deliver SIGTERM).
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AgentService runs the agent until a termination signal arrives.
type AgentService struct {
	logger      *zap.Logger
	stopTimeout time.Duration
	run         func(ctx context.Context) error
}

// New creates a service wrapper. stopTimeout is unused outside Windows; the
// agent bounds its own shutdown flush.
func New(logger *zap.Logger, stopTimeout time.Duration, run func(ctx context.Context) error) *AgentService {
	return &AgentService{
		logger:      logger,
		stopTimeout: stopTimeout,
		run:         run,
	}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run executes the agent in the foreground.
func (s *AgentService) Run() error {
	return s.RunForeground()
}
