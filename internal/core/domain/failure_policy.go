package domain

import "strings"

// FailurePolicyMode enumerates how the resolver reacts when a store lookup fails.
type FailurePolicyMode string

const (
	// FailurePolicyModePropagate returns infrastructure errors to the caller, who must treat them as deny.
	FailurePolicyModePropagate FailurePolicyMode = "propagate"
	// FailurePolicyModeFailClosed converts infrastructure errors into a NO_GRANT decision.
	FailurePolicyModeFailClosed FailurePolicyMode = "fail_closed"
)

// FailurePolicy centralises the resolver's behaviour on infrastructure errors.
// There is deliberately no fail-open mode.
type FailurePolicy struct {
	mode FailurePolicyMode
}

// NewFailurePolicy constructs a policy with the provided mode, defaulting to propagate when unspecified.
func NewFailurePolicy(mode FailurePolicyMode) FailurePolicy {
	if mode != FailurePolicyModeFailClosed {
		mode = FailurePolicyModePropagate
	}
	return FailurePolicy{mode: mode}
}

// ParseFailurePolicyMode normalises textual input into a supported policy mode.
func ParseFailurePolicyMode(value string) FailurePolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(FailurePolicyModeFailClosed), "fail-closed", "closed":
		return FailurePolicyModeFailClosed
	default:
		return FailurePolicyModePropagate
	}
}

// Mode returns the underlying policy mode.
func (p FailurePolicy) Mode() FailurePolicyMode {
	if p.mode == "" {
		return FailurePolicyModePropagate
	}
	return p.mode
}

// FailsClosed indicates whether errors are folded into a deny decision.
func (p FailurePolicy) FailsClosed() bool {
	return p.mode == FailurePolicyModeFailClosed
}
