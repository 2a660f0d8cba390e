// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow reconciles Workflow custom resources: it is the translation of the state
// machine described for handlers H1, H2, H4, H5, and H6 onto controller-runtime's single
// level-triggered Reconcile call. Job lifecycle events (H3) are handled by the sibling
// reconciler in internal/controller/job.
package workflow

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
	"github.com/dagctl/workflow-operator/internal/config"
	"github.com/dagctl/workflow-operator/internal/daemon"
	"github.com/dagctl/workflow-operator/internal/jobs"
	"github.com/dagctl/workflow-operator/internal/workflowstate"
)

// Reconciler drives a Workflow through Created -> Started -> Completed/Failed.
type Reconciler struct {
	client.Client
	Scheme *runtime.Scheme

	Config  config.OperatorConfig
	Clock   clock.Clock
	Daemon  *daemon.Registry
	Builder *jobs.Builder
}

// +kubebuilder:rbac:groups=workflow.dagctl.io,resources=workflows,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=workflow.dagctl.io,resources=workflows/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;update;patch;delete

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("workflow", req.NamespacedName)

	var workflow workflowv1alpha1.Workflow
	if err := r.Get(ctx, req.NamespacedName, &workflow); err != nil {
		if apierrors.IsNotFound(err) {
			r.Daemon.Stop(req.NamespacedName)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{Requeue: true}, err
	}

	// H1: no status recorded yet means this is the first time the controller has seen this
	// resource.
	if workflow.Status.WorkflowStatus == "" {
		return r.handleCreate(ctx, &workflow)
	}

	// Terminal status is absorbing: stop the timeout worker and do nothing further.
	if workflowstate.HasTerminated(&workflow) {
		r.Daemon.Stop(req.NamespacedName)
		return ctrl.Result{}, nil
	}

	r.Daemon.EnsureStarted(ctx, req.NamespacedName, r.timeoutLoop(req.NamespacedName))

	switch {
	case workflow.Generation != workflow.Status.ObservedGeneration:
		return r.handleSpecUpdate(ctx, &workflow)
	case labelsChanged(&workflow):
		return r.handleRelabel(ctx, &workflow)
	default:
		return r.handleProgress(ctx, &workflow, logger)
	}
}

// handleCreate is H1: validate the spec and either fail the workflow or move it to Created with
// both step-set annotations initialized to empty.
func (r *Reconciler) handleCreate(ctx context.Context, workflow *workflowv1alpha1.Workflow) (ctrl.Result, error) {
	patch := &workflowstate.Patch{}

	if ok, message := workflowstate.Validate(workflow); !ok {
		workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseFailed, message)
	} else {
		workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseCreated, "")
		workflowstate.InitStepSets(patch)
	}
	stampObservedGeneration(patch, workflow)
	stampLabelSnapshot(patch, workflow)

	if err := r.commit(ctx, workflow, patch); err != nil {
		return ctrl.Result{Requeue: true}, err
	}
	return ctrl.Result{}, nil
}

// handleProgress is H2: the primary progress tick. It launches every currently runnable,
// not-yet-started step and advances status to Started or Completed.
func (r *Reconciler) handleProgress(ctx context.Context, workflow *workflowv1alpha1.Workflow, logger logr.Logger) (ctrl.Result, error) {
	patch := &workflowstate.Patch{}

	if workflowstate.HasFinished(workflow) {
		workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseCompleted, "")
		if err := r.commit(ctx, workflow, patch); err != nil {
			return ctrl.Result{Requeue: true}, err
		}
		return ctrl.Result{}, nil
	}

	toExecute, err := workflowstate.StepsToExecute(workflow)
	if err != nil {
		workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseFailed, err.Error())
		if cerr := r.commit(ctx, workflow, patch); cerr != nil {
			return ctrl.Result{Requeue: true}, cerr
		}
		return ctrl.Result{}, nil
	}

	started := make([]string, 0, len(toExecute))
	for _, step := range toExecute {
		job := r.Builder.Build(workflow, step)
		if err := ctrl.SetControllerReference(workflow, job, r.Scheme); err != nil {
			return ctrl.Result{Requeue: true}, err
		}
		if err := r.Create(ctx, job); err != nil {
			logger.Error(err, "failed to create job for step", "step", step.StepName)
			return ctrl.Result{Requeue: true}, err
		}
		started = append(started, step.StepName)
	}

	workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseStarted, "")
	if len(started) > 0 {
		workflowstate.AddStartedSteps(workflow, patch, started)
	}

	if err := r.commit(ctx, workflow, patch); err != nil {
		return ctrl.Result{Requeue: true}, err
	}
	return ctrl.Result{}, nil
}

// handleRelabel is H4: propagate the workflow's current labels to every job it owns.
func (r *Reconciler) handleRelabel(ctx context.Context, workflow *workflowv1alpha1.Workflow) (ctrl.Result, error) {
	ownedJobs, err := jobs.ListForWorkflow(ctx, r.Client, workflow.Namespace, workflow.Name)
	if err != nil {
		return ctrl.Result{Requeue: true}, err
	}
	for i := range ownedJobs {
		if err := jobs.PatchLabels(ctx, r.Client, &ownedJobs[i], workflow.Labels); err != nil {
			return ctrl.Result{Requeue: true}, err
		}
	}

	patch := &workflowstate.Patch{}
	stampLabelSnapshot(patch, workflow)
	if err := r.commit(ctx, workflow, patch); err != nil {
		return ctrl.Result{Requeue: true}, err
	}
	return ctrl.Result{}, nil
}

// handleSpecUpdate is H5: re-validate, reset progress, and delete every job this workflow
// previously owned so that H2 re-launches root steps against the new spec.
func (r *Reconciler) handleSpecUpdate(ctx context.Context, workflow *workflowv1alpha1.Workflow) (ctrl.Result, error) {
	patch := &workflowstate.Patch{}

	if ok, message := workflowstate.Validate(workflow); !ok {
		workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseFailed, message)
		stampObservedGeneration(patch, workflow)
		if err := r.commit(ctx, workflow, patch); err != nil {
			return ctrl.Result{Requeue: true}, err
		}
		return ctrl.Result{}, nil
	}

	ownedJobs, err := jobs.ListForWorkflow(ctx, r.Client, workflow.Namespace, workflow.Name)
	if err != nil {
		return ctrl.Result{Requeue: true}, err
	}
	for i := range ownedJobs {
		if err := r.Delete(ctx, &ownedJobs[i]); err != nil && !apierrors.IsNotFound(err) {
			return ctrl.Result{Requeue: true}, err
		}
	}

	workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseCreated, "Restarted job after spec update")
	workflowstate.InitStepSets(patch)
	stampObservedGeneration(patch, workflow)

	if err := r.commit(ctx, workflow, patch); err != nil {
		return ctrl.Result{Requeue: true}, err
	}
	return ctrl.Result{}, nil
}

// timeoutLoop returns the H6 worker body for key, closing over this reconciler's client, clock,
// and configuration.
func (r *Reconciler) timeoutLoop(key types.NamespacedName) func(context.Context) {
	return daemon.NewTimeoutLoop(r.Client, r.Clock, key, r.Config.Timeout.InitialDelay, r.Config.Timeout.PollInterval, log.Log.WithValues("workflow", key))
}

// commit applies patch to workflow and persists it: annotation changes through a regular
// update, status changes through the status subresource.
func (r *Reconciler) commit(ctx context.Context, workflow *workflowv1alpha1.Workflow, patch *workflowstate.Patch) error {
	if patch.IsEmpty() {
		return nil
	}
	hasAnnotations := len(patch.Annotations) > 0
	hasStatus := patch.Status != nil

	workflowstate.ApplyTo(workflow, patch)

	if hasAnnotations {
		if err := r.Update(ctx, workflow); err != nil {
			return err
		}
	}
	if hasStatus {
		// The metadata update above reloads workflow from the server, which reverts its status
		// to the stored one; apply the patch again so the status write carries it.
		if hasAnnotations {
			workflowstate.ApplyTo(workflow, patch)
		}
		if err := r.Status().Update(ctx, workflow); err != nil {
			return err
		}
	}
	return nil
}

func stampObservedGeneration(patch *workflowstate.Patch, workflow *workflowv1alpha1.Workflow) {
	gen := workflow.Generation
	if patch.Status == nil {
		patch.Status = &workflowstate.StatusPatch{}
	}
	patch.Status.ObservedGeneration = &gen
}

func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&workflowv1alpha1.Workflow{}).
		Named("workflow").
		Complete(r)
}
