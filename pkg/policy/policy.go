// Package policy maps a vehicle count to a recommended signal wait time.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultThreshold   = 15
	DefaultWait        = 30 * time.Second
	DefaultReducedWait = 20 * time.Second
)

// Policy is a fixed threshold rule. It is never adjusted at runtime.
type Policy struct {
	// Threshold is the vehicle count that must be exceeded to reduce the wait.
	Threshold int `yaml:"threshold"`

	// DefaultWait applies when the count is at or below Threshold.
	DefaultWait time.Duration `yaml:"default_wait"`

	// ReducedWait applies when the count is strictly above Threshold.
	ReducedWait time.Duration `yaml:"reduced_wait"`
}

// Default returns the production policy: 15 vehicles, 30s default, 20s reduced.
func Default() Policy {
	return Policy{
		Threshold:   DefaultThreshold,
		DefaultWait: DefaultWait,
		ReducedWait: DefaultReducedWait,
	}
}

// Decision is the outcome of one Decide call.
type Decision struct {
	Count   int           `json:"count"`
	Wait    time.Duration `json:"wait"`
	Reduced bool          `json:"reduced"`
}

// Decide returns ReducedWait when count > Threshold and DefaultWait otherwise.
// A count equal to Threshold keeps the default wait.
func (p Policy) Decide(count int) Decision {
	if count > p.Threshold {
		return Decision{Count: count, Wait: p.ReducedWait, Reduced: true}
	}
	return Decision{Count: count, Wait: p.DefaultWait}
}

// Validate checks the policy constants.
func (p Policy) Validate() error {
	var errs []error
	if p.Threshold < 0 {
		errs = append(errs, fmt.Errorf("policy: threshold must be >= 0, got %d", p.Threshold))
	}
	if p.DefaultWait <= 0 {
		errs = append(errs, fmt.Errorf("policy: default wait must be positive, got %v", p.DefaultWait))
	}
	if p.ReducedWait <= 0 {
		errs = append(errs, fmt.Errorf("policy: reduced wait must be positive, got %v", p.ReducedWait))
	}
	return errors.Join(errs...)
}

// WaitSeconds returns the wait rounded to whole seconds.
func (d Decision) WaitSeconds() int {
	return int(d.Wait.Round(time.Second) / time.Second)
}

// String formats the decision as a console progress line.
func (d Decision) String() string {
	if d.Reduced {
		return fmt.Sprintf("Vehicle count (%d) exceeds threshold. Wait time: %ds", d.Count, d.WaitSeconds())
	}
	return fmt.Sprintf("Vehicle count (%d) within threshold. Wait time: %ds", d.Count, d.WaitSeconds())
}
