// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
	"github.com/dagctl/workflow-operator/internal/config"
	"github.com/dagctl/workflow-operator/internal/daemon"
	"github.com/dagctl/workflow-operator/internal/jobs"
)

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	Expect(workflowv1alpha1.AddToScheme(scheme)).To(Succeed())
	Expect(batchv1.AddToScheme(scheme)).To(Succeed())
	return scheme
}

func newReconciler(objs ...client.Object) *Reconciler {
	c := fake.NewClientBuilder().
		WithScheme(newScheme()).
		WithStatusSubresource(&workflowv1alpha1.Workflow{}).
		WithObjects(objs...).
		Build()

	return &Reconciler{
		Client:  c,
		Scheme:  newScheme(),
		Config:  config.DefaultOperatorConfig(),
		Clock:   clock.NewMock(),
		Daemon:  daemon.NewRegistry(logr.Discard()),
		Builder: jobs.NewBuilder(0),
	}
}

func reqForWorkflow(w *workflowv1alpha1.Workflow) ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{Namespace: w.Namespace, Name: w.Name}}
}

func twoStepWorkflow(name string) *workflowv1alpha1.Workflow {
	return &workflowv1alpha1.Workflow{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", Generation: 1},
		Spec: workflowv1alpha1.WorkflowSpec{
			MaxStepTimeout: workflowv1alpha1.NoStepTimeout,
			Containers: []workflowv1alpha1.WorkflowStep{
				{StepName: "step0", Image: "busybox"},
				{StepName: "step1", Image: "busybox", DependsOn: []string{"step0"}},
			},
		},
	}
}

var _ = Describe("Workflow Reconciler", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("H1: first sighting of a Workflow", func() {
		It("validates the spec and moves to Created with empty step sets", func() {
			workflow := twoStepWorkflow("wf")
			r := newReconciler(workflow)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var got workflowv1alpha1.Workflow
			Expect(r.Get(ctx, reqForWorkflow(workflow).NamespacedName, &got)).To(Succeed())
			Expect(got.Status.WorkflowStatus).To(Equal(workflowv1alpha1.WorkflowPhaseCreated))
			Expect(got.Status.ObservedGeneration).To(BeEquivalentTo(1))
			Expect(got.Annotations[workflowv1alpha1.AnnotationExecutedSteps]).To(BeEmpty())
		})

		It("fails a workflow whose steps form a cycle", func() {
			workflow := twoStepWorkflow("wf")
			workflow.Spec.Containers[0].DependsOn = []string{"step1"}
			r := newReconciler(workflow)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var got workflowv1alpha1.Workflow
			Expect(r.Get(ctx, reqForWorkflow(workflow).NamespacedName, &got)).To(Succeed())
			Expect(got.Status.WorkflowStatus).To(Equal(workflowv1alpha1.WorkflowPhaseFailed))
		})
	})

	Context("H2: progress tick", func() {
		It("launches only the currently runnable root steps", func() {
			workflow := twoStepWorkflow("wf")
			workflow.Status = workflowv1alpha1.WorkflowStatus{
				WorkflowStatus:     workflowv1alpha1.WorkflowPhaseCreated,
				ObservedGeneration: 1,
			}
			workflow.Annotations = map[string]string{
				workflowv1alpha1.AnnotationExecutedSteps: "",
				workflowv1alpha1.AnnotationStartedSteps:  "",
			}
			r := newReconciler(workflow)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var jobList batchv1.JobList
			Expect(r.List(ctx, &jobList)).To(Succeed())
			Expect(jobList.Items).To(HaveLen(1))
			Expect(jobList.Items[0].Labels[workflowv1alpha1.LabelWorkflowStep]).To(Equal("step0"))

			var got workflowv1alpha1.Workflow
			Expect(r.Get(ctx, reqForWorkflow(workflow).NamespacedName, &got)).To(Succeed())
			Expect(got.Status.WorkflowStatus).To(Equal(workflowv1alpha1.WorkflowPhaseStarted))
			Expect(got.Annotations[workflowv1alpha1.AnnotationStartedSteps]).To(Equal("step0"))
		})

		It("does not relaunch a step already recorded as started", func() {
			workflow := twoStepWorkflow("wf")
			workflow.Status = workflowv1alpha1.WorkflowStatus{
				WorkflowStatus:     workflowv1alpha1.WorkflowPhaseStarted,
				ObservedGeneration: 1,
			}
			workflow.Annotations = map[string]string{
				workflowv1alpha1.AnnotationExecutedSteps: "",
				workflowv1alpha1.AnnotationStartedSteps:  "step0",
			}
			r := newReconciler(workflow)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var jobList batchv1.JobList
			Expect(r.List(ctx, &jobList)).To(Succeed())
			Expect(jobList.Items).To(BeEmpty())
		})

		It("completes once every declared step has executed", func() {
			workflow := twoStepWorkflow("wf")
			workflow.Status = workflowv1alpha1.WorkflowStatus{
				WorkflowStatus:     workflowv1alpha1.WorkflowPhaseStarted,
				ObservedGeneration: 1,
			}
			workflow.Annotations = map[string]string{
				workflowv1alpha1.AnnotationExecutedSteps: "step0;step1",
				workflowv1alpha1.AnnotationStartedSteps:  "step0;step1",
			}
			r := newReconciler(workflow)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var got workflowv1alpha1.Workflow
			Expect(r.Get(ctx, reqForWorkflow(workflow).NamespacedName, &got)).To(Succeed())
			Expect(got.Status.WorkflowStatus).To(Equal(workflowv1alpha1.WorkflowPhaseCompleted))
		})
	})

	Context("terminal workflows", func() {
		It("leaves a Failed workflow untouched", func() {
			workflow := twoStepWorkflow("wf")
			workflow.Status = workflowv1alpha1.WorkflowStatus{
				WorkflowStatus:     workflowv1alpha1.WorkflowPhaseFailed,
				ObservedGeneration: 1,
				Message:            "boom",
			}
			r := newReconciler(workflow)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var got workflowv1alpha1.Workflow
			Expect(r.Get(ctx, reqForWorkflow(workflow).NamespacedName, &got)).To(Succeed())
			Expect(got.Status.Message).To(Equal("boom"))
		})
	})

	Context("H5: spec update", func() {
		It("resets progress and deletes previously owned jobs", func() {
			workflow := twoStepWorkflow("wf")
			workflow.Generation = 2
			workflow.Status = workflowv1alpha1.WorkflowStatus{
				WorkflowStatus:     workflowv1alpha1.WorkflowPhaseStarted,
				ObservedGeneration: 1,
			}
			workflow.Annotations = map[string]string{
				workflowv1alpha1.AnnotationExecutedSteps: "",
				workflowv1alpha1.AnnotationStartedSteps:  "step0",
			}
			staleJob := jobs.NewBuilder(0).Build(workflow, workflow.Spec.Containers[0])
			staleJob.Name = "stale-job"

			r := newReconciler(workflow, staleJob)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var got workflowv1alpha1.Workflow
			Expect(r.Get(ctx, reqForWorkflow(workflow).NamespacedName, &got)).To(Succeed())
			Expect(got.Status.WorkflowStatus).To(Equal(workflowv1alpha1.WorkflowPhaseCreated))
			Expect(got.Status.ObservedGeneration).To(BeEquivalentTo(2))
			Expect(got.Annotations[workflowv1alpha1.AnnotationStartedSteps]).To(BeEmpty())

			var jobList batchv1.JobList
			Expect(r.List(ctx, &jobList)).To(Succeed())
			Expect(jobList.Items).To(BeEmpty())
		})
	})

	Context("H4: relabel", func() {
		It("propagates workflow labels to every owned job", func() {
			workflow := twoStepWorkflow("wf")
			workflow.Labels = map[string]string{"team": "payments"}
			workflow.Status = workflowv1alpha1.WorkflowStatus{
				WorkflowStatus:     workflowv1alpha1.WorkflowPhaseStarted,
				ObservedGeneration: 1,
			}
			applied, _ := json.Marshal(map[string]string{})
			workflow.Annotations = map[string]string{
				workflowv1alpha1.AnnotationExecutedSteps:     "",
				workflowv1alpha1.AnnotationStartedSteps:      "step0",
				workflowv1alpha1.AnnotationLastAppliedLabels: string(applied),
			}
			job := jobs.NewBuilder(0).Build(&workflowv1alpha1.Workflow{
				ObjectMeta: metav1.ObjectMeta{Name: workflow.Name, Namespace: workflow.Namespace},
			}, workflow.Spec.Containers[0])
			job.Name = "step0-job"

			r := newReconciler(workflow, job)

			_, err := r.Reconcile(ctx, reqForWorkflow(workflow))
			Expect(err).NotTo(HaveOccurred())

			var gotJob batchv1.Job
			Expect(r.Get(ctx, types.NamespacedName{Namespace: "default", Name: "step0-job"}, &gotJob)).To(Succeed())
			Expect(gotJob.Labels).To(HaveKeyWithValue("team", "payments"))

			var got workflowv1alpha1.Workflow
			Expect(r.Get(ctx, reqForWorkflow(workflow).NamespacedName, &got)).To(Succeed())
			var snapshot map[string]string
			Expect(json.Unmarshal([]byte(got.Annotations[workflowv1alpha1.AnnotationLastAppliedLabels]), &snapshot)).To(Succeed())
			Expect(snapshot).To(HaveKeyWithValue("team", "payments"))
		})
	})
})
