package pmir

import (
	"net/url"
	"strings"

	"github.com/mag/gateway/internal/platform/fhir"
	"github.com/mag/gateway/internal/platform/xds"
)

// Resolver maps between registry patient identifiers and FHIR Patient
// references served under a configured endpoint.
type Resolver struct {
	baseURL string
}

// NewResolver returns a Resolver whose outward references are rooted at
// baseURL, e.g. "https://gw.example.org/fhir/Patient".
func NewResolver(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/")}
}

// PatientID returns the logical id of the Patient for an identifier pair.
func (r *Resolver) PatientID(authority, value string) string {
	return xds.BuildReferenceID(authority, value)
}

// BuildReference returns an absolute Patient reference for the pair.
func (r *Resolver) BuildReference(authority, value string) fhir.Reference {
	return fhir.Reference{
		Reference: r.baseURL + "/" + r.PatientID(authority, value),
		Type:      fhir.ResourcePatient,
	}
}

// ResolveReference extracts the composite identifier carried in a
// reference's identifier query parameter. Anything else is unresolvable.
func (r *Resolver) ResolveReference(text string) (*xds.Identifiable, bool) {
	return xds.ParseCompositeReference(text)
}

// ReferenceQuery renders the identifier query a client can send back as a
// patient reference. ResolveReference inverts it for any value: both parts
// are query-escaped, the "|" separator is not.
func (r *Resolver) ReferenceQuery(id xds.Identifiable) string {
	return "?identifier=urn:oid:" + url.QueryEscape(id.AuthorityOID) + "|" + url.QueryEscape(id.Value)
}
