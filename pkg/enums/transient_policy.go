package enums

import "fmt"

// TransientPolicy controls what an automatic revalidation does when the backend is unreachable.
type TransientPolicy string

const (
	TransientPolicyKeepMarker TransientPolicy = "keep_marker"
	TransientPolicyRemove     TransientPolicy = "remove"
)

var validTransientPolicies = []TransientPolicy{
	TransientPolicyKeepMarker,
	TransientPolicyRemove,
}

// String implements fmt.Stringer.
func (e TransientPolicy) String() string {
	return string(e)
}

// IsValid reports whether the value is a known TransientPolicy.
func (e TransientPolicy) IsValid() bool {
	for _, candidate := range validTransientPolicies {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseTransientPolicy converts raw input into a TransientPolicy.
func ParseTransientPolicy(value string) (TransientPolicy, error) {
	for _, candidate := range validTransientPolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transient policy %q", value)
}
