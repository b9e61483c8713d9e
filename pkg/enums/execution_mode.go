package enums

import "fmt"

// ExecutionMode selects whether a cart mutation is applied to the guest record or delegated to the backend.
type ExecutionMode string

const (
	ExecutionModeLocal               ExecutionMode = "local"
	ExecutionModeServerAuthoritative ExecutionMode = "server_authoritative"
)

var validExecutionModes = []ExecutionMode{
	ExecutionModeLocal,
	ExecutionModeServerAuthoritative,
}

// String implements fmt.Stringer.
func (e ExecutionMode) String() string {
	return string(e)
}

// IsValid reports whether the value is a known ExecutionMode.
func (e ExecutionMode) IsValid() bool {
	for _, candidate := range validExecutionModes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseExecutionMode converts raw input into a ExecutionMode.
func ParseExecutionMode(value string) (ExecutionMode, error) {
	for _, candidate := range validExecutionModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid execution mode %q", value)
}
