package xds

import "fmt"

// UnsupportedSearchError is returned when a search asks for an aggregate
// kind other than submission sets.
type UnsupportedSearchError struct {
	ResourceType string
}

func (e *UnsupportedSearchError) Error() string {
	return fmt.Sprintf("only search for submissionsets supported, got %q", e.ResourceType)
}

// MissingSchemeError is returned when an identifier's coding system cannot
// be resolved to an assigning authority OID.
type MissingSchemeError struct {
	System string
}

func (e *MissingSchemeError) Error() string {
	if e.System == "" {
		return "missing OID for patient: no identifier system given"
	}
	return fmt.Sprintf("missing OID for patient: cannot resolve system %q", e.System)
}
