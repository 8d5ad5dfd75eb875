// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package supervisor

import "context"

// Runner is anything with a context-driven run loop. All long-running
// Quartermaster components (HTTP server, hub heartbeat, poller, store GC)
// satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// Service adapts a Runner to suture.Service with a stable name for
// supervision logs.
type Service struct {
	name   string
	runner Runner
}

// NewService wraps a runner for supervision.
func NewService(name string, runner Runner) *Service {
	return &Service{name: name, runner: runner}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for suture event logs.
func (s *Service) String() string {
	return s.name
}
