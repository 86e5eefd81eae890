package domain

import "strings"

// FailureType classifies why a node broke. Advisers filter on it.
type FailureType string

const (
	FailureUnknown              FailureType = "UNKNOWN"
	FailureAuthentication       FailureType = "AUTHENTICATION"
	FailureAuthorization        FailureType = "AUTHORIZATION"
	FailureConnectivity         FailureType = "CONNECTIVITY"
	FailureTimeout              FailureType = "TIMEOUT"
	FailureDelegateProvisioning FailureType = "DELEGATE_PROVISIONING"
	FailureVerification         FailureType = "VERIFICATION"
	FailureApplication          FailureType = "APPLICATION"
	FailureExpired              FailureType = "EXPIRED"
)

func NormalizeFailureType(value string) FailureType {
	f := FailureType(strings.ToUpper(strings.TrimSpace(value)))
	switch f {
	case FailureAuthentication, FailureAuthorization, FailureConnectivity, FailureTimeout,
		FailureDelegateProvisioning, FailureVerification, FailureApplication, FailureExpired:
		return f
	default:
		return FailureUnknown
	}
}

type FailureInfo struct {
	FailureTypes []FailureType `json:"failureTypes,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// HasAny reports whether the failure carries one of types. An empty filter
// matches every failure.
func (f *FailureInfo) HasAny(types []FailureType) bool {
	if len(types) == 0 {
		return true
	}
	if f == nil {
		return false
	}
	for _, want := range types {
		for _, got := range f.FailureTypes {
			if want == got {
				return true
			}
		}
	}
	return false
}
