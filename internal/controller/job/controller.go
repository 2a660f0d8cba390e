// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

// Package job reconciles batch Jobs created on behalf of a Workflow step. It is the translation
// of handler H3: when a step's Job finishes, record the outcome on the owning Workflow so the
// workflow reconciler's next tick (H2) can launch whatever the DAG now allows.
package job

import (
	"context"

	"github.com/benbjohnson/clock"
	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
	"github.com/dagctl/workflow-operator/internal/jobs"
	"github.com/dagctl/workflow-operator/internal/workflowstate"
)

// Reconciler watches Jobs labeled with an owning workflow and folds their completion/failure
// back onto that Workflow's status.
type Reconciler struct {
	client.Client
	Clock clock.Clock
}

// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch
// +kubebuilder:rbac:groups=workflow.dagctl.io,resources=workflows,verbs=get;update
// +kubebuilder:rbac:groups=workflow.dagctl.io,resources=workflows/status,verbs=get;update;patch

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues("job", req.NamespacedName)

	var job batchv1.Job
	if err := r.Get(ctx, req.NamespacedName, &job); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{Requeue: true}, err
	}

	completed := jobs.HasCompleted(&job)
	failed := jobs.HasFailed(&job)
	if !completed && !failed {
		return ctrl.Result{}, nil
	}

	workflow, err := jobs.GetOwningWorkflow(ctx, r.Client, &job)
	if err != nil {
		logger.Error(err, "failed to resolve owning workflow")
		return ctrl.Result{}, nil
	}

	// A terminal workflow is an absorbing state: a job finishing after its workflow has
	// already failed or completed (e.g. a straggler from a since-superseded spec update)
	// must not reopen it.
	if workflowstate.HasTerminated(workflow) {
		return ctrl.Result{}, nil
	}

	stepName := jobs.GetStepName(&job)
	patch := &workflowstate.Patch{}

	switch {
	case failed:
		workflowstate.UpdateStatus(patch, r.Clock, workflowv1alpha1.WorkflowPhaseFailed, "Step "+stepName+" has failed")
	case completed:
		workflowstate.AddExecutedStep(workflow, patch, stepName)
	}

	workflowstate.ApplyTo(workflow, patch)

	if patch.Status != nil {
		if err := r.Status().Update(ctx, workflow); err != nil {
			return ctrl.Result{Requeue: true}, err
		}
	}
	if len(patch.Annotations) > 0 {
		if err := r.Update(ctx, workflow); err != nil {
			return ctrl.Result{Requeue: true}, err
		}
	}

	return ctrl.Result{}, nil
}

// hasOwningWorkflowLabel filters the watch down to Jobs this operator created.
func hasOwningWorkflowLabel() predicate.Predicate {
	has := func(obj client.Object) bool {
		_, ok := obj.GetLabels()[workflowv1alpha1.LabelOwningWorkflow]
		return ok
	}
	return predicate.NewPredicateFuncs(has)
}

// statusChangedPredicate passes Job creations and updates that change a Job's Complete/Failed
// condition, since that is the only field H3 cares about; deletes, generic events, and other
// updates are skipped.
func statusChangedPredicate() predicate.Predicate {
	return predicate.Funcs{
		CreateFunc: func(event.CreateEvent) bool { return true },
		DeleteFunc: func(event.DeleteEvent) bool { return false },
		GenericFunc: func(event.GenericEvent) bool { return false },
		UpdateFunc: func(e event.UpdateEvent) bool {
			oldJob, ok := e.ObjectOld.(*batchv1.Job)
			if !ok {
				return true
			}
			newJob, ok := e.ObjectNew.(*batchv1.Job)
			if !ok {
				return true
			}
			return jobs.HasCompleted(oldJob) != jobs.HasCompleted(newJob) ||
				jobs.HasFailed(oldJob) != jobs.HasFailed(newJob)
		},
	}
}

func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&batchv1.Job{}, builder.WithPredicates(hasOwningWorkflowLabel(), statusChangedPredicate())).
		Named("job").
		Complete(r)
}
