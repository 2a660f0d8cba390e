// Copyright 2025 The Workflow Operator Authors
// SPDX-License-Identifier: Apache-2.0

package config

import "time"

// EnvPrefix is the environment variable prefix used by the operator's Loader.
// WORKFLOW_OPERATOR__JOB__BACKOFFLIMIT -> job.backofflimit
const EnvPrefix = "WORKFLOW_OPERATOR"

// CRDConfig identifies the custom resource this operator watches.
type CRDConfig struct {
	Group   string `koanf:"group"`
	Version string `koanf:"version"`
	Plural  string `koanf:"plural"`
}

// JobConfig controls how batch Jobs are created for workflow steps.
type JobConfig struct {
	BackoffLimit int32 `koanf:"backofflimit"`
}

// TimeoutConfig controls the per-workflow timeout daemon.
type TimeoutConfig struct {
	InitialDelay time.Duration `koanf:"initialdelay"`
	PollInterval time.Duration `koanf:"pollinterval"`
}

// OperatorConfig is the operator's full runtime configuration, loaded via Loader from struct
// defaults, an optional YAML file, and environment variables, in that priority order.
type OperatorConfig struct {
	CRD           CRDConfig     `koanf:"crd"`
	Job           JobConfig     `koanf:"job"`
	Timeout       TimeoutConfig `koanf:"timeout"`
	StepSeparator string        `koanf:"stepseparator"`
}

// DefaultOperatorConfig returns the struct defaults loaded before any file or environment
// overrides are applied.
func DefaultOperatorConfig() OperatorConfig {
	return OperatorConfig{
		CRD: CRDConfig{
			Group:   "workflow.dagctl.io",
			Version: "v1alpha1",
			Plural:  "workflows",
		},
		Job: JobConfig{
			BackoffLimit: 1,
		},
		Timeout: TimeoutConfig{
			InitialDelay: 30 * time.Second,
			PollInterval: 10 * time.Second,
		},
		StepSeparator: ";",
	}
}

// Validate implements Validator.
func (c *OperatorConfig) Validate() error {
	var errs ValidationErrors

	crdPath := NewPath("crd")
	if err := MustNotBeEmpty(crdPath.Child("group"), c.CRD.Group); err != nil {
		errs = append(errs, err)
	}
	if err := MustNotBeEmpty(crdPath.Child("version"), c.CRD.Version); err != nil {
		errs = append(errs, err)
	}
	if err := MustNotBeEmpty(crdPath.Child("plural"), c.CRD.Plural); err != nil {
		errs = append(errs, err)
	}

	jobPath := NewPath("job")
	if err := MustBeNonNegative(jobPath.Child("backofflimit"), c.Job.BackoffLimit); err != nil {
		errs = append(errs, err)
	}

	timeoutPath := NewPath("timeout")
	if err := MustBeGreaterThan(timeoutPath.Child("pollinterval"), c.Timeout.PollInterval, time.Duration(0)); err != nil {
		errs = append(errs, err)
	}
	if err := MustBeNonNegative(timeoutPath.Child("initialdelay"), c.Timeout.InitialDelay); err != nil {
		errs = append(errs, err)
	}

	if err := MustNotBeEmpty(NewPath("stepseparator"), c.StepSeparator); err != nil {
		errs = append(errs, err)
	}

	return errs.OrNil()
}

// Load reads operator configuration from struct defaults, an optional YAML file at configPath,
// and environment variables prefixed with EnvPrefix, then validates the result.
func Load(configPath string) (OperatorConfig, error) {
	loader := NewLoader(EnvPrefix)
	defaults := DefaultOperatorConfig()
	if err := loader.LoadWithDefaults(defaults, configPath); err != nil {
		return OperatorConfig{}, err
	}

	var cfg OperatorConfig
	if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
		return OperatorConfig{}, err
	}
	return cfg, nil
}
