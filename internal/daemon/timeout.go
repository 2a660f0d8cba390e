// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
	"github.com/dagctl/workflow-operator/internal/workflowstate"
)

// TimeoutMessage is the status message H6 writes when it fails a workflow for exceeding its
// maxStepTimeout.
const TimeoutMessage = "Workflow timeout"

// NewTimeoutLoop builds the H6 worker body for the workflow named by key. The loop measures the
// age of the workflow's current status (not of any individual step): it wakes every
// pollInterval, and fails the workflow once wall-clock minus status-changed exceeds the
// workflow's configured maxStepTimeout. A maxStepTimeout of -1 disables the loop entirely. The
// loop always observes ctx.Done() at its wait boundary so Registry.Stop returns promptly.
func NewTimeoutLoop(
	c client.Client,
	clk clock.Clock,
	key types.NamespacedName,
	initialDelay, pollInterval time.Duration,
	log logr.Logger,
) func(context.Context) {
	return func(ctx context.Context) {
		if !sleep(ctx, clk, initialDelay) {
			return
		}

		for {
			var workflow workflowv1alpha1.Workflow
			if err := c.Get(ctx, key, &workflow); err != nil {
				if !apierrors.IsNotFound(err) {
					log.Error(err, "timeout worker failed to read workflow")
				}
				return
			}

			if workflowstate.HasTerminated(&workflow) {
				return
			}

			maxTimeout := workflowstate.GetMaxStepTimeout(&workflow)
			if maxTimeout < 0 {
				return
			}

			statusTimestamp, err := workflowstate.GetStatusTimestamp(&workflow)
			if err != nil {
				log.Error(err, "timeout worker failed to parse status timestamp")
				return
			}

			if !statusTimestamp.IsZero() && clk.Now().Sub(statusTimestamp) > maxTimeout {
				patch := &workflowstate.Patch{}
				workflowstate.UpdateStatus(patch, clk, workflowv1alpha1.WorkflowPhaseFailed, TimeoutMessage)
				workflowstate.ApplyTo(&workflow, patch)
				if err := c.Status().Update(ctx, &workflow); err != nil {
					log.Error(err, "timeout worker failed to apply Failed status")
				}
				return
			}

			if !sleep(ctx, clk, pollInterval) {
				return
			}
		}
	}
}

// sleep waits for d or ctx cancellation, whichever comes first. It returns false if ctx was
// cancelled.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
