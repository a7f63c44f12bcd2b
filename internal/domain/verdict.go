package domain

import (
	"fmt"
	"time"
)

// VerdictKind classifies the outcome of one evaluation
type VerdictKind string

const (
	VerdictPass            VerdictKind = "pass"
	VerdictFail            VerdictKind = "fail"
	VerdictRuntimeError    VerdictKind = "runtime_error"
	VerdictTimeout         VerdictKind = "timeout"
	VerdictValidationError VerdictKind = "validation_error"
)

// Verdict is the tagged result of one evaluation
type Verdict struct {
	Kind     VerdictKind   `json:"kind"`
	Message  string        `json:"message,omitempty"`
	Mismatch *Mismatch     `json:"mismatch,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Logs     []string      `json:"logs,omitempty"`
}

// Mismatch describes the first failing fixture case. Values are JSON text.
type Mismatch struct {
	CaseIndex int    `json:"case_index"`
	Input     string `json:"input"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// Passed reports whether the verdict is a pass
func (v Verdict) Passed() bool {
	return v.Kind == VerdictPass
}

// Summary returns a one-line human readable description
func (v Verdict) Summary() string {
	switch v.Kind {
	case VerdictPass:
		return "Congrats! All tests passed!"
	case VerdictFail:
		if v.Mismatch != nil {
			return fmt.Sprintf("Test case %d failed: input %s, expected %s, got %s",
				v.Mismatch.CaseIndex+1, v.Mismatch.Input, v.Mismatch.Expected, v.Mismatch.Actual)
		}
		return "One or more test cases failed"
	case VerdictTimeout:
		return "Time limit exceeded"
	case VerdictValidationError:
		return "Invalid submission: " + v.Message
	default:
		return "Runtime error: " + v.Message
	}
}

// PassVerdict creates a pass verdict
func PassVerdict() Verdict {
	return Verdict{Kind: VerdictPass}
}

// FailVerdict creates a fail verdict with the mismatch detail
func FailVerdict(m Mismatch) Verdict {
	return Verdict{Kind: VerdictFail, Mismatch: &m}
}

// RuntimeErrorVerdict creates a runtime error verdict
func RuntimeErrorVerdict(msg string) Verdict {
	return Verdict{Kind: VerdictRuntimeError, Message: msg}
}

// TimeoutVerdict creates a timeout verdict for the given budget
func TimeoutVerdict(budget time.Duration) Verdict {
	return Verdict{Kind: VerdictTimeout, Message: fmt.Sprintf("exceeded %s budget", budget)}
}

// ValidationErrorVerdict creates a validation error verdict
func ValidationErrorVerdict(reason string) Verdict {
	return Verdict{Kind: VerdictValidationError, Message: reason}
}
