// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Label keys the controller stamps onto every batch Job it creates for a step. These are part
// of the external wire contract and must not be renamed: tooling built against the original
// system identifies a step's job by these exact keys.
const (
	LabelOwningWorkflow = "kopf__workflow__kopf"
	LabelWorkflowStep   = "kopf__workflow__step__kopf"
)

// Annotation keys the controller uses to encode the executed-steps and started-steps sets on
// the Workflow resource. Both are ";"-joined lists of step names; the empty set is encoded as
// the empty string.
const (
	AnnotationExecutedSteps = "workflow-executed-steps"
	AnnotationStartedSteps  = "workflow-started-steps"

	// AnnotationLastAppliedLabels is controller-internal bookkeeping: a snapshot of
	// metadata.labels as of the last create or relabel reconcile, used to detect label changes that
	// controller-runtime (unlike kopf) does not surface as a discrete event. It carries no
	// meaning to users and is never read by anything outside this operator.
	AnnotationLastAppliedLabels = "workflow-last-applied-labels"

	// StepSeparator joins step names within the executed/started-steps annotations.
	StepSeparator = ";"
)

// WorkflowPhase is the lifecycle state of a Workflow.
// +kubebuilder:validation:Enum=Created;Started;Completed;Failed
type WorkflowPhase string

const (
	WorkflowPhaseCreated   WorkflowPhase = "Created"
	WorkflowPhaseStarted   WorkflowPhase = "Started"
	WorkflowPhaseCompleted WorkflowPhase = "Completed"
	WorkflowPhaseFailed    WorkflowPhase = "Failed"
)

// NoStepTimeout is the sentinel value for WorkflowSpec.MaxStepTimeout that disables the
// per-workflow timeout daemon entirely.
const NoStepTimeout int64 = -1

// WorkflowStep is a single node in a Workflow DAG. It is treated as an immutable value; the DAG
// and the executed/started step sets identify a step by its StepName alone.
type WorkflowStep struct {
	// StepName uniquely identifies this step within its workflow.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	StepName string `json:"stepName"`

	// Image is the container image reference run for this step.
	// +kubebuilder:validation:Required
	Image string `json:"image"`

	// DependsOn lists the step names that must be in the executed-steps set before this step
	// becomes runnable.
	// +optional
	DependsOn []string `json:"dependsOn,omitempty"`

	// Command overrides the container's entrypoint arguments.
	// +optional
	Command []string `json:"command,omitempty"`
}

// WorkflowSpec defines the DAG of steps a Workflow executes and the per-step timeout budget.
type WorkflowSpec struct {
	// Containers is the ordered list of steps in this workflow. Edges are implied by each
	// step's DependsOn.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinItems=1
	Containers []WorkflowStep `json:"containers"`

	// MaxStepTimeout bounds, in seconds, how long the workflow may sit at its current status
	// before the timeout daemon fails it. -1 disables the daemon.
	// +kubebuilder:validation:Required
	MaxStepTimeout int64 `json:"maxStepTimeout"`
}

// WorkflowStatus is the observed lifecycle state of a Workflow. Field names match the external
// annotation/status contract from the original system (hyphenated JSON keys) rather than the
// usual Go-casing convention, since existing tooling reads this resource by those exact keys.
type WorkflowStatus struct {
	// WorkflowStatus is the current lifecycle phase.
	// +optional
	WorkflowStatus WorkflowPhase `json:"workflow-status,omitempty"`

	// StatusChanged is the RFC3339 timestamp of the last status mutation. The timeout daemon
	// measures workflow age from this value, not from any individual step's start time.
	// +optional
	StatusChanged string `json:"status-changed,omitempty"`

	// Message is a free-text explanation of the current status.
	// +optional
	Message string `json:"message,omitempty"`

	// ObservedGeneration is the .metadata.generation the controller last fully reconciled a
	// spec change for. Used to detect spec updates (H5); not part of the external contract.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Status",type=string,JSONPath=`.status.workflow-status`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Workflow is the Schema for the workflows API.
type Workflow struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   WorkflowSpec   `json:"spec,omitempty"`
	Status WorkflowStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// WorkflowList contains a list of Workflow.
type WorkflowList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Workflow `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Workflow{}, &WorkflowList{})
}
