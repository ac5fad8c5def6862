package fhir

import (
	"time"
)

// Resource types served or referenced by the gateway.
const (
	ResourceDocumentManifest = "DocumentManifest"
	ResourcePatient          = "Patient"
	ResourceOperationOutcome = "OperationOutcome"
	ResourceBundle           = "Bundle"
)

type Meta struct {
	VersionID   string     `json:"versionId,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Profile     []string   `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference points at another resource. Logical references carry an
// Identifier instead of a literal URL.
type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// FormatReference returns a relative literal reference, e.g. "Patient/123".
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}
