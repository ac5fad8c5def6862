package xds

import (
	"regexp"
	"strings"
)

var oidPattern = regexp.MustCompile(`^[0-2](\.(0|[1-9][0-9]*))+$`)

// defaultSchemes maps well-known FHIR coding-system URIs to their OIDs.
var defaultSchemes = map[string]string{
	"http://loinc.org":               "2.16.840.1.113883.6.1",
	"http://snomed.info/sct":         "2.16.840.1.113883.6.96",
	"http://hl7.org/fhir/sid/us-ssn": "2.16.840.1.113883.4.1",
	"http://hl7.org/fhir/sid/us-npi": "2.16.840.1.113883.4.6",
	"urn:ietf:bcp:13":                "2.16.840.1.113883.5.79",
}

// statusTokens maps FHIR DocumentManifest status codes to registry statuses.
var statusTokens = map[string]Status{
	"current":    StatusApproved,
	"superseded": StatusDeprecated,
}

// SchemeMapper translates FHIR codes and coding-system URIs into the
// registry's vocabulary. It is immutable after construction.
type SchemeMapper struct {
	schemes map[string]string
}

// NewSchemeMapper returns a mapper with the built-in URI mappings plus the
// given overrides (URI -> OID; a urn:oid: prefix on the OID is stripped).
func NewSchemeMapper(overrides map[string]string) *SchemeMapper {
	schemes := make(map[string]string, len(defaultSchemes)+len(overrides))
	for uri, oid := range defaultSchemes {
		schemes[uri] = oid
	}
	for uri, oid := range overrides {
		schemes[strings.TrimSpace(uri)] = strings.TrimPrefix(strings.TrimSpace(oid), oidPrefix)
	}
	return &SchemeMapper{schemes: schemes}
}

// MapStatusToken maps "current" and "superseded" exactly; any other token
// is reported as unmapped and is meant to be dropped by the caller.
func (m *SchemeMapper) MapStatusToken(token string) (Status, bool) {
	s, ok := statusTokens[token]
	return s, ok
}

// ResolveScheme normalizes a coding-system URI or OID to a bare OID.
func (m *SchemeMapper) ResolveScheme(uriOrOID string) (string, error) {
	system := strings.TrimSpace(uriOrOID)
	if system == "" {
		return "", &MissingSchemeError{}
	}
	if oid, ok := m.schemes[system]; ok {
		return oid, nil
	}
	if kind, rest := StripURNPrefix(system); kind == URNOID && rest != "" {
		return rest, nil
	}
	if oidPattern.MatchString(system) {
		return system, nil
	}
	return "", &MissingSchemeError{System: system}
}
