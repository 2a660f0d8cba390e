// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
)

// HasCompleted reports whether job carries a True "Complete" condition.
func HasCompleted(job *batchv1.Job) bool {
	return hasCondition(job, batchv1.JobComplete)
}

// HasFailed reports whether job carries a True "Failed" condition.
func HasFailed(job *batchv1.Job) bool {
	return hasCondition(job, batchv1.JobFailed)
}

func hasCondition(job *batchv1.Job, conditionType batchv1.JobConditionType) bool {
	for _, cond := range job.Status.Conditions {
		if cond.Type == conditionType && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// GetOwningWorkflow reads the owning-workflow label off job and fetches the named Workflow from
// job's namespace.
func GetOwningWorkflow(ctx context.Context, c client.Client, job *batchv1.Job) (*workflowv1alpha1.Workflow, error) {
	name := job.Labels[workflowv1alpha1.LabelOwningWorkflow]
	if name == "" {
		return nil, fmt.Errorf("jobs: job %s/%s has no owning-workflow label", job.Namespace, job.Name)
	}

	var workflow workflowv1alpha1.Workflow
	if err := c.Get(ctx, client.ObjectKey{Namespace: job.Namespace, Name: name}, &workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// GetStepName reads the step label off job.
func GetStepName(job *batchv1.Job) string {
	return job.Labels[workflowv1alpha1.LabelWorkflowStep]
}

// ListForWorkflow lists every Job owned by the named workflow in namespace.
func ListForWorkflow(ctx context.Context, c client.Client, namespace, workflowName string) ([]batchv1.Job, error) {
	var list batchv1.JobList
	if err := c.List(ctx, &list,
		client.InNamespace(namespace),
		client.MatchingLabels{workflowv1alpha1.LabelOwningWorkflow: workflowName},
	); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// PatchLabels merges newLabels into job's labels and persists the change.
func PatchLabels(ctx context.Context, c client.Client, job *batchv1.Job, newLabels map[string]string) error {
	original := job.DeepCopy()
	if job.Labels == nil {
		job.Labels = make(map[string]string, len(newLabels))
	}
	for k, v := range newLabels {
		job.Labels[k] = v
	}
	return c.Patch(ctx, job, client.MergeFrom(original))
}
