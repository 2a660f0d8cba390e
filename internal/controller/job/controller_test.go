// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/benbjohnson/clock"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
	"github.com/dagctl/workflow-operator/internal/workflowstate"
)

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	Expect(workflowv1alpha1.AddToScheme(scheme)).To(Succeed())
	Expect(batchv1.AddToScheme(scheme)).To(Succeed())
	return scheme
}

func newStartedWorkflow(name string) *workflowv1alpha1.Workflow {
	return &workflowv1alpha1.Workflow{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: workflowv1alpha1.WorkflowSpec{
			Containers: []workflowv1alpha1.WorkflowStep{
				{StepName: "step0"},
				{StepName: "step1", DependsOn: []string{"step0"}},
			},
		},
		Status: workflowv1alpha1.WorkflowStatus{
			WorkflowStatus: workflowv1alpha1.WorkflowPhaseStarted,
		},
	}
}

func newStepJob(name, workflowName, stepName string, completed bool) *batchv1.Job {
	conditionType := batchv1.JobFailed
	if completed {
		conditionType = batchv1.JobComplete
	}
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels: map[string]string{
				workflowv1alpha1.LabelOwningWorkflow: workflowName,
				workflowv1alpha1.LabelWorkflowStep:   stepName,
			},
		},
		Status: batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{
				{Type: conditionType, Status: corev1.ConditionTrue},
			},
		},
	}
}

func reqFor(job *batchv1.Job) ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{Namespace: job.Namespace, Name: job.Name}}
}

var _ = Describe("Job Reconciler", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("records the step as executed when its job completes", func() {
		workflow := newStartedWorkflow("wf")
		job := newStepJob("step0-abc", "wf", "step0", true)

		c := fake.NewClientBuilder().WithScheme(newScheme()).
			WithObjects(workflow, job).
			WithStatusSubresource(&workflowv1alpha1.Workflow{}).
			Build()

		r := &Reconciler{Client: c, Clock: clock.NewMock()}
		_, err := r.Reconcile(ctx, reqFor(job))
		Expect(err).NotTo(HaveOccurred())

		var got workflowv1alpha1.Workflow
		Expect(c.Get(ctx, types.NamespacedName{Namespace: "default", Name: "wf"}, &got)).To(Succeed())
		Expect(workflowstate.GetExecutedSteps(&got)).To(Equal([]string{"step0"}))
	})

	It("fails the workflow when its job fails", func() {
		workflow := newStartedWorkflow("wf")
		job := newStepJob("step0-abc", "wf", "step0", false)

		c := fake.NewClientBuilder().WithScheme(newScheme()).
			WithObjects(workflow, job).
			WithStatusSubresource(&workflowv1alpha1.Workflow{}).
			Build()

		r := &Reconciler{Client: c, Clock: clock.NewMock()}
		_, err := r.Reconcile(ctx, reqFor(job))
		Expect(err).NotTo(HaveOccurred())

		var got workflowv1alpha1.Workflow
		Expect(c.Get(ctx, types.NamespacedName{Namespace: "default", Name: "wf"}, &got)).To(Succeed())
		Expect(got.Status.WorkflowStatus).To(Equal(workflowv1alpha1.WorkflowPhaseFailed))
		Expect(got.Status.Message).To(Equal("Step step0 has failed"))
	})

	It("ignores a completion event for a job whose workflow already terminated", func() {
		workflow := newStartedWorkflow("wf")
		workflow.Status.WorkflowStatus = workflowv1alpha1.WorkflowPhaseCompleted
		job := newStepJob("step1-abc", "wf", "step1", true)

		c := fake.NewClientBuilder().WithScheme(newScheme()).
			WithObjects(workflow, job).
			WithStatusSubresource(&workflowv1alpha1.Workflow{}).
			Build()

		r := &Reconciler{Client: c, Clock: clock.NewMock()}
		_, err := r.Reconcile(ctx, reqFor(job))
		Expect(err).NotTo(HaveOccurred())

		var got workflowv1alpha1.Workflow
		Expect(c.Get(ctx, types.NamespacedName{Namespace: "default", Name: "wf"}, &got)).To(Succeed())
		Expect(workflowstate.GetExecutedSteps(&got)).To(BeEmpty())
	})

	It("leaves the workflow untouched while its job is still running", func() {
		workflow := newStartedWorkflow("wf")
		job := &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "step0-abc",
				Namespace: "default",
				Labels: map[string]string{
					workflowv1alpha1.LabelOwningWorkflow: "wf",
					workflowv1alpha1.LabelWorkflowStep:   "step0",
				},
			},
		}

		c := fake.NewClientBuilder().WithScheme(newScheme()).
			WithObjects(workflow, job).
			WithStatusSubresource(&workflowv1alpha1.Workflow{}).
			Build()

		r := &Reconciler{Client: c, Clock: clock.NewMock()}
		_, err := r.Reconcile(ctx, reqFor(job))
		Expect(err).NotTo(HaveOccurred())

		var got workflowv1alpha1.Workflow
		Expect(c.Get(ctx, types.NamespacedName{Namespace: "default", Name: "wf"}, &got)).To(Succeed())
		Expect(got.Status.WorkflowStatus).To(Equal(workflowv1alpha1.WorkflowPhaseStarted))
	})
})
