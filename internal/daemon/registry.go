// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/types"
)

// Registry supervises at most one timeout worker per workflow, keyed by its namespaced name.
// EnsureStarted is idempotent: calling it repeatedly for the same key while a worker is already
// running is a no-op, which is what lets the reconciler call it unconditionally on every tick.
type Registry struct {
	mu      sync.Mutex
	workers map[types.NamespacedName]*statefulService
	log     logr.Logger
}

// NewRegistry returns an empty worker registry.
func NewRegistry(log logr.Logger) *Registry {
	return &Registry{
		workers: make(map[types.NamespacedName]*statefulService),
		log:     log,
	}
}

// EnsureStarted starts run under key unless a worker for key is already running.
func (r *Registry) EnsureStarted(ctx context.Context, key types.NamespacedName, run func(context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, ok := r.workers[key]; ok {
		select {
		case <-svc.Done():
			// Previous worker exited on its own (e.g. the workflow reached a terminal
			// status from inside the loop); fall through and start a replacement only if
			// the caller asks again, which it won't for a terminal workflow.
		default:
			return
		}
	}

	svc := newStatefulService(ctx, r.log.WithValues("workflow", key), run)
	r.workers[key] = svc
	svc.Start()
}

// Stop tears down the worker for key, if any, and removes it from the registry. Blocks until the
// worker's goroutine has exited.
func (r *Registry) Stop(key types.NamespacedName) {
	r.mu.Lock()
	svc, ok := r.workers[key]
	if ok {
		delete(r.workers, key)
	}
	r.mu.Unlock()

	if ok {
		svc.Stop()
	}
}

// StopAll tears down every running worker. Used on manager shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	workers := r.workers
	r.workers = make(map[types.NamespacedName]*statefulService)
	r.mu.Unlock()

	for _, svc := range workers {
		svc.Stop()
	}
}
