// Package outcome describes best-effort results that completed in a degraded
// mode instead of failing the caller.
package outcome

import "fmt"

// Reason classifies why a component fell back.
type Reason string

const (
	ReasonMissingCredentials Reason = "missing_credentials"
	ReasonRemoteError        Reason = "remote_error"
	ReasonEmptyResult        Reason = "empty_result"
	ReasonInputTooLong       Reason = "input_too_long"
	ReasonStorageError       Reason = "storage_error"
	ReasonEmptyInput         Reason = "empty_input"
)

// Degradation records that a component served a lesser result.
type Degradation struct {
	Component string `json:"component"`
	Reason    Reason `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// Degrade builds a Degradation, keeping the cause's message as detail.
func Degrade(component string, reason Reason, cause error) *Degradation {
	d := &Degradation{Component: component, Reason: reason}
	if cause != nil {
		d.Detail = cause.Error()
	}
	return d
}

func (d *Degradation) String() string {
	if d == nil {
		return ""
	}
	if d.Detail == "" {
		return fmt.Sprintf("%s: %s", d.Component, d.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", d.Component, d.Reason, d.Detail)
}
