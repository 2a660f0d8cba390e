// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon runs and supervises the per-workflow timeout worker (handler H6): one
// long-lived goroutine per live Workflow, started on demand and torn down when the workflow
// reaches a terminal status or is deleted.
package daemon

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// statefulService gives a background worker a start/stop/done-channel lifecycle: Start launches
// fn in its own goroutine bound to a cancellable context, Stop cancels that context and blocks
// until fn has returned.
type statefulService struct {
	mu        sync.Mutex
	started   bool
	ctx       context.Context
	ctxCancel context.CancelFunc
	doneC     chan struct{}
	fn        func(context.Context)
	log       logr.Logger
}

func newStatefulService(ctx context.Context, log logr.Logger, fn func(context.Context)) *statefulService {
	ctx, cancel := context.WithCancel(ctx)
	return &statefulService{
		ctx:       ctx,
		ctxCancel: cancel,
		doneC:     make(chan struct{}),
		fn:        fn,
		log:       log,
	}
}

// Done is closed once fn has returned, whether because it finished on its own or because Stop
// was called.
func (s *statefulService) Done() <-chan struct{} {
	return s.doneC
}

// Start runs fn in a new goroutine. Panics if called more than once.
func (s *statefulService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("daemon: statefulService.Start called more than once")
	}
	s.started = true
	go func() {
		defer close(s.doneC)
		s.fn(s.ctx)
	}()
}

// Stop cancels the worker's context and blocks until it has exited. Idempotent.
func (s *statefulService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.ctxCancel()
	<-s.doneC
}
