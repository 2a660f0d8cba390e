// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
	"github.com/dagctl/workflow-operator/internal/workflowstate"
)

// labelsChanged reports whether workflow's current labels differ from the snapshot recorded the
// last time H1 or H4 ran, which is how H4 (relabel) gets triggered instead of the default
// progress tick.
func labelsChanged(workflow *workflowv1alpha1.Workflow) bool {
	snapshot, ok := workflow.Annotations[workflowv1alpha1.AnnotationLastAppliedLabels]
	if !ok {
		return len(workflow.Labels) > 0
	}

	var applied map[string]string
	if err := json.Unmarshal([]byte(snapshot), &applied); err != nil {
		return true
	}
	if len(applied) != len(workflow.Labels) {
		return true
	}
	for k, v := range workflow.Labels {
		if applied[k] != v {
			return true
		}
	}
	return false
}

// stampLabelSnapshot records workflow's current labels as the baseline future reconciles diff
// against.
func stampLabelSnapshot(patch *workflowstate.Patch, workflow *workflowv1alpha1.Workflow) {
	encoded, err := json.Marshal(workflow.Labels)
	if err != nil {
		return
	}
	if patch.Annotations == nil {
		patch.Annotations = make(map[string]string)
	}
	patch.Annotations[workflowv1alpha1.AnnotationLastAppliedLabels] = string(encoded)
}
