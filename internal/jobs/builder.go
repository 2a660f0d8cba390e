// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobs builds the batch Job for a single workflow step and reads completion/failure
// signals back off a Job resource.
package jobs

import (
	"fmt"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
)

// Builder constructs batch Jobs for workflow steps using a fixed backoff limit sourced from
// operator configuration at construction time, never a package-level global.
type Builder struct {
	BackoffLimit int32
}

// NewBuilder returns a Builder configured with backoffLimit.
func NewBuilder(backoffLimit int32) *Builder {
	return &Builder{BackoffLimit: backoffLimit}
}

// Build constructs the Job description for step, owned by workflow. The returned Job is not yet
// submitted to the API server and carries no owner reference; callers attach one (via
// ctrl.SetControllerReference) before creating it so that deleting the workflow cascades to the
// job.
func (b *Builder) Build(workflow *workflowv1alpha1.Workflow, step workflowv1alpha1.WorkflowStep) *batchv1.Job {
	jobName := fmt.Sprintf("%s-%s", step.StepName, uuid.NewString())

	labels := make(map[string]string, len(workflow.Labels)+2)
	for k, v := range workflow.Labels {
		labels[k] = v
	}
	labels[workflowv1alpha1.LabelOwningWorkflow] = workflow.Name
	labels[workflowv1alpha1.LabelWorkflowStep] = step.StepName

	backoffLimit := b.BackoffLimit
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: workflow.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:    jobName,
							Image:   step.Image,
							Command: step.Command,
						},
					},
				},
			},
		},
	}
}
