package xds

import (
	"encoding/json"
	"time"
)

// Status is the registry availability status of a registry object.
type Status int

const (
	StatusApproved Status = iota + 1
	StatusDeprecated
)

func (s Status) String() string {
	switch s {
	case StatusApproved:
		return "Approved"
	case StatusDeprecated:
		return "Deprecated"
	default:
		return "Unknown"
	}
}

// URN returns the ebRIM status type URN sent to the registry.
func (s Status) URN() string {
	return "urn:oasis:names:tc:ebxml-regrep:StatusType:" + s.String()
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Code is a coded value qualified by its coding scheme.
type Code struct {
	Code       string `json:"code"`
	SchemeName string `json:"schemeName,omitempty"`
}

// ReturnShape selects whether the registry returns full objects or
// object references.
type ReturnShape int

const (
	LeafClass ReturnShape = iota
	ObjectRef
)

func (r ReturnShape) String() string {
	if r == ObjectRef {
		return "ObjectRef"
	}
	return "LeafClass"
}

func (r ReturnShape) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// StructuredQuery is one of the registry stored-query variants. The set of
// implementations is closed: *DirectLookup and *FilteredSearch.
type StructuredQuery interface {
	// QueryName is the stored-query name used on the wire.
	QueryName() string
	isStructuredQuery()
}

// DirectLookup fetches a single submission set and its contents.
// At most one of UniqueID and UUID is set.
type DirectLookup struct {
	UniqueID string `json:"uniqueId,omitempty"`
	UUID     string `json:"uuid,omitempty"`
}

func (*DirectLookup) QueryName() string  { return "GetSubmissionSetAndContents" }
func (*DirectLookup) isStructuredQuery() {}

// Unconstrained reports whether neither key is set, which happens when the
// caller supplied an identifier without a recognized urn prefix.
func (q *DirectLookup) Unconstrained() bool {
	return q.UniqueID == "" && q.UUID == ""
}

// StatusFilter distinguishes an absent status constraint from one that was
// requested but matched no known status. Applied with no Values selects
// nothing.
type StatusFilter struct {
	Applied bool     `json:"applied"`
	Values  []Status `json:"values,omitempty"`
}

// FilteredSearch finds submission sets matching all set fields.
type FilteredSearch struct {
	PatientID          *Identifiable `json:"patientId,omitempty"`
	SubmissionTimeFrom *time.Time    `json:"submissionTimeFrom,omitempty"`
	SubmissionTimeTo   *time.Time    `json:"submissionTimeTo,omitempty"`
	AuthorPerson       *string       `json:"authorPerson,omitempty"`
	ContentTypeCodes   []Code        `json:"contentTypeCodes,omitempty"`
	SourceIDs          []string      `json:"sourceIds,omitempty"`
	Status             StatusFilter  `json:"status"`
}

func (*FilteredSearch) QueryName() string  { return "FindSubmissionSets" }
func (*FilteredSearch) isStructuredQuery() {}

// QueryEnvelope wraps a stored query with the requested return shape.
type QueryEnvelope struct {
	Query       StructuredQuery `json:"-"`
	ReturnShape ReturnShape     `json:"returnType"`
}

func (e *QueryEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name        string          `json:"queryName"`
		Query       StructuredQuery `json:"query"`
		ReturnShape ReturnShape     `json:"returnType"`
	}{
		Name:        e.Query.QueryName(),
		Query:       e.Query,
		ReturnShape: e.ReturnShape,
	})
}
