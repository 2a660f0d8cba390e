// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

// Package dag builds the dependency graph for a workflow's steps and answers which steps are
// runnable given a set of already-executed step names.
package dag

import (
	"fmt"

	workflowv1alpha1 "github.com/dagctl/workflow-operator/api/v1alpha1"
)

// node is a single step plus the edges touching it.
type node struct {
	step         workflowv1alpha1.WorkflowStep
	predecessors []string
	successors   []string
}

// Graph is the dependency DAG of a workflow's steps, keyed by step name.
type Graph struct {
	nodes map[string]*node
}

// Build constructs the DAG for spec. It fails if a step's dependsOn references a step that
// doesn't exist, or if the resulting graph contains a cycle.
func Build(spec workflowv1alpha1.WorkflowSpec) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node, len(spec.Containers))}

	for _, step := range spec.Containers {
		if _, exists := g.nodes[step.StepName]; exists {
			return nil, fmt.Errorf("dag: duplicate step name %q", step.StepName)
		}
		g.nodes[step.StepName] = &node{step: step}
	}

	for _, step := range spec.Containers {
		for _, dep := range step.DependsOn {
			predecessor, ok := g.nodes[dep]
			if !ok {
				return nil, fmt.Errorf("dag: step %q depends on unknown step %q", step.StepName, dep)
			}
			predecessor.successors = append(predecessor.successors, step.StepName)
			g.nodes[step.StepName].predecessors = append(g.nodes[step.StepName].predecessors, dep)
		}
	}

	if cycle := g.findCycle(); cycle != "" {
		return nil, fmt.Errorf("dag: cycle detected involving step %q", cycle)
	}

	return g, nil
}

// findCycle returns the name of a step participating in a cycle, or "" if the graph is acyclic.
func (g *Graph) findCycle() string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))

	var visit func(name string) string
	visit = func(name string) string {
		switch state[name] {
		case visiting:
			return name
		case done:
			return ""
		}
		state[name] = visiting
		for _, next := range g.nodes[name].successors {
			if cyc := visit(next); cyc != "" {
				return cyc
			}
		}
		state[name] = done
		return ""
	}

	for name := range g.nodes {
		if state[name] == unvisited {
			if cyc := visit(name); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// NextRunnable returns the steps that are runnable given the set of already-executed step
// names. If executed is empty, it returns every root step (no predecessors). Otherwise it
// considers the union of direct successors of every executed step and includes a successor iff
// it is not itself already executed and every one of its predecessors is in executed.
func (g *Graph) NextRunnable(executed map[string]struct{}) []workflowv1alpha1.WorkflowStep {
	if len(executed) == 0 {
		var roots []workflowv1alpha1.WorkflowStep
		for _, n := range g.nodes {
			if len(n.predecessors) == 0 {
				roots = append(roots, n.step)
			}
		}
		return roots
	}

	candidates := make(map[string]struct{})
	for name := range executed {
		n, ok := g.nodes[name]
		if !ok {
			continue
		}
		for _, succ := range n.successors {
			candidates[succ] = struct{}{}
		}
	}

	var runnable []workflowv1alpha1.WorkflowStep
	for name := range candidates {
		if _, already := executed[name]; already {
			continue
		}
		n := g.nodes[name]
		ready := true
		for _, pred := range n.predecessors {
			if _, ok := executed[pred]; !ok {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, n.step)
		}
	}
	return runnable
}

// StepNames returns the name of every step in the graph.
func (g *Graph) StepNames() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	return names
}
