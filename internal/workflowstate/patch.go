// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflowstate reads and writes the fields of a Workflow resource that encode its
// lifecycle: status, status timestamp, executed-steps set, started-steps set, and per-step
// timeout. It hides the ";"-joined annotation encoding of the step sets behind a typed Patch so
// handlers never mutate a live object directly.
package workflowstate

import (
	"strings"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
)

// StatusPatch is the overlay applied to a Workflow's status subresource.
type StatusPatch struct {
	Phase              workflowv1alpha1.WorkflowPhase
	Message            string
	StatusChanged      string
	ObservedGeneration *int64
}

// Patch is a sparse overlay accumulated by handlers and applied to a Workflow in a single write.
// Handlers build a Patch and hand it to a single apply point (ApplyTo) rather than mutating the
// object field by field.
type Patch struct {
	Annotations map[string]string
	Status      *StatusPatch
}

// setAnnotation lazily allocates the annotation map and sets key.
func (p *Patch) setAnnotation(key, value string) {
	if p.Annotations == nil {
		p.Annotations = make(map[string]string)
	}
	p.Annotations[key] = value
}

// IsEmpty reports whether the patch carries no changes at all.
func (p *Patch) IsEmpty() bool {
	return p == nil || (len(p.Annotations) == 0 && p.Status == nil)
}

// ApplyTo merges the patch into a live Workflow object's annotations and status. Callers persist
// the mutated object via the Kubernetes API (metadata/annotations through a regular update,
// status through the status subresource).
func ApplyTo(w *workflowv1alpha1.Workflow, patch *Patch) {
	if patch == nil {
		return
	}
	if len(patch.Annotations) > 0 {
		if w.Annotations == nil {
			w.Annotations = make(map[string]string, len(patch.Annotations))
		}
		for k, v := range patch.Annotations {
			w.Annotations[k] = v
		}
	}
	if patch.Status != nil {
		w.Status.WorkflowStatus = patch.Status.Phase
		w.Status.Message = patch.Status.Message
		w.Status.StatusChanged = patch.Status.StatusChanged
		if patch.Status.ObservedGeneration != nil {
			w.Status.ObservedGeneration = *patch.Status.ObservedGeneration
		}
	}
}

// splitStepSet parses a ";"-joined annotation value into a slice of step names. The empty
// string parses to an empty (nil) slice, never a slice containing one empty-string element.
func splitStepSet(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, workflowv1alpha1.StepSeparator)
}

// joinStepSet re-encodes a slice of step names, deduplicating while preserving first-seen order.
func joinStepSet(names []string) string {
	seen := make(map[string]struct{}, len(names))
	deduped := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		deduped = append(deduped, n)
	}
	return strings.Join(deduped, workflowv1alpha1.StepSeparator)
}

// stepSetFrom returns the set-of-strings form of a step slice, for membership tests.
func stepSetFrom(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
