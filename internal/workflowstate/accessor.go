// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package workflowstate

import (
	"time"

	"github.com/benbjohnson/clock"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
	"github.com/dagctl/workflow-operator/internal/dag"
)

// Validate builds the DAG for a workflow's spec. It reports ok=false with an explanatory
// message on a malformed schema or a dependency cycle; ok=true otherwise.
func Validate(w *workflowv1alpha1.Workflow) (ok bool, message string) {
	if _, err := dag.Build(w.Spec); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// InitStepSets resets both step-set annotations to the empty set.
func InitStepSets(patch *Patch) {
	patch.setAnnotation(workflowv1alpha1.AnnotationExecutedSteps, "")
	patch.setAnnotation(workflowv1alpha1.AnnotationStartedSteps, "")
}

// GetExecutedSteps returns the steps recorded as completed.
func GetExecutedSteps(w *workflowv1alpha1.Workflow) []string {
	return splitStepSet(w.Annotations[workflowv1alpha1.AnnotationExecutedSteps])
}

// GetStartedSteps returns the steps for which a job has been launched.
func GetStartedSteps(w *workflowv1alpha1.Workflow) []string {
	return splitStepSet(w.Annotations[workflowv1alpha1.AnnotationStartedSteps])
}

// AddExecutedStep computes executed ∪ {stepName} from the current body and writes the result
// into the patch.
func AddExecutedStep(w *workflowv1alpha1.Workflow, patch *Patch, stepName string) {
	executed := append(GetExecutedSteps(w), stepName)
	patch.setAnnotation(workflowv1alpha1.AnnotationExecutedSteps, joinStepSet(executed))
}

// AddStartedSteps computes started ∪ newlyStarted from the current body and writes the result
// into the patch.
func AddStartedSteps(w *workflowv1alpha1.Workflow, patch *Patch, newlyStarted []string) {
	started := append(GetStartedSteps(w), newlyStarted...)
	patch.setAnnotation(workflowv1alpha1.AnnotationStartedSteps, joinStepSet(started))
}

// HasFinished reports whether every declared step has executed.
func HasFinished(w *workflowv1alpha1.Workflow) bool {
	return len(GetExecutedSteps(w)) == len(w.Spec.Containers)
}

// StepsToExecute builds the DAG, asks it which steps are runnable given the executed-steps set,
// then filters out steps already present in the started-steps set. That last filter is the
// idempotence guard against double-launching a step from a retried or duplicate event.
func StepsToExecute(w *workflowv1alpha1.Workflow) ([]workflowv1alpha1.WorkflowStep, error) {
	graph, err := dag.Build(w.Spec)
	if err != nil {
		return nil, err
	}

	executed := stepSetFrom(GetExecutedSteps(w))
	started := stepSetFrom(GetStartedSteps(w))

	runnable := graph.NextRunnable(executed)
	toExecute := make([]workflowv1alpha1.WorkflowStep, 0, len(runnable))
	for _, step := range runnable {
		if _, alreadyStarted := started[step.StepName]; alreadyStarted {
			continue
		}
		toExecute = append(toExecute, step)
	}
	return toExecute, nil
}

// UpdateStatus writes the workflow phase, a status message, and the current wall-clock time
// (RFC3339, the Go analogue of ISO-8601) into the patch's status overlay.
func UpdateStatus(patch *Patch, clk clock.Clock, phase workflowv1alpha1.WorkflowPhase, message string) {
	patch.Status = &StatusPatch{
		Phase:         phase,
		Message:       message,
		StatusChanged: clk.Now().UTC().Format(time.RFC3339),
	}
}

// GetStatus returns the workflow's current lifecycle phase.
func GetStatus(w *workflowv1alpha1.Workflow) workflowv1alpha1.WorkflowPhase {
	return w.Status.WorkflowStatus
}

// GetStatusTimestamp parses the workflow's status-changed timestamp. It returns the zero time if
// no status has been recorded yet.
func GetStatusTimestamp(w *workflowv1alpha1.Workflow) (time.Time, error) {
	if w.Status.StatusChanged == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, w.Status.StatusChanged)
}

// GetMaxStepTimeout returns the workflow's configured step timeout as a duration. It returns a
// negative duration (mirroring the -1 sentinel) when the timeout daemon is disabled.
func GetMaxStepTimeout(w *workflowv1alpha1.Workflow) time.Duration {
	if w.Spec.MaxStepTimeout == workflowv1alpha1.NoStepTimeout {
		return -1
	}
	return time.Duration(w.Spec.MaxStepTimeout) * time.Second
}

// HasTerminated reports whether the workflow is in an absorbing terminal phase.
func HasTerminated(w *workflowv1alpha1.Workflow) bool {
	switch w.Status.WorkflowStatus {
	case workflowv1alpha1.WorkflowPhaseCompleted, workflowv1alpha1.WorkflowPhaseFailed:
		return true
	default:
		return false
	}
}
