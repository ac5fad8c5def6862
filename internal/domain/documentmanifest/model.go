package documentmanifest

import (
	"time"

	"github.com/google/uuid"

	"github.com/mag/gateway/internal/domain/pmir"
	"github.com/mag/gateway/internal/platform/fhir"
	"github.com/mag/gateway/internal/platform/xds"
	"github.com/mag/gateway/pkg/fhirmodels"
)

// SubmissionSet maps to the submission_set table of the local registry.
type SubmissionSet struct {
	ID                uuid.UUID `db:"id" json:"id"`
	EntryUUID         string    `db:"entry_uuid" json:"entry_uuid"`
	UniqueID          string    `db:"unique_id" json:"unique_id"`
	PatientID         string    `db:"patient_id" json:"patient_id"`
	PatientAuthority  string    `db:"patient_authority" json:"patient_authority"`
	SourceID          string    `db:"source_id" json:"source_id"`
	Status            string    `db:"status" json:"status"`
	ContentTypeCode   *string   `db:"content_type_code" json:"content_type_code,omitempty"`
	ContentTypeScheme *string   `db:"content_type_scheme" json:"content_type_scheme,omitempty"`
	AuthorPerson      *string   `db:"author_person" json:"author_person,omitempty"`
	Title             *string   `db:"title" json:"title,omitempty"`
	SubmissionTime    time.Time `db:"submission_time" json:"submission_time"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// fhirStatus maps the registry availability status back to a
// DocumentManifest status code.
func (s *SubmissionSet) fhirStatus() string {
	if s.Status == xds.StatusDeprecated.String() {
		return fhirmodels.DocumentManifestStatusSuperseded
	}
	return fhirmodels.DocumentManifestStatusCurrent
}

// ToFHIR renders a minimal DocumentManifest projection. The subject is a
// Patient reference built by the resolver.
func (s *SubmissionSet) ToFHIR(resolver *pmir.Resolver) map[string]interface{} {
	created := s.SubmissionTime.UTC()
	result := map[string]interface{}{
		"resourceType": fhir.ResourceDocumentManifest,
		"id":           s.EntryUUID,
		"meta": fhir.Meta{
			LastUpdated: &created,
			Profile:     []string{"http://hl7.org/fhir/StructureDefinition/DocumentManifest"},
		},
		"masterIdentifier": fhir.Identifier{System: "urn:ietf:rfc:3986", Value: "urn:oid:" + s.UniqueID},
		"identifier": []fhir.Identifier{
			{Use: "official", System: "urn:ietf:rfc:3986", Value: "urn:uuid:" + s.EntryUUID},
		},
		"status":  s.fhirStatus(),
		"subject": resolver.BuildReference(s.PatientAuthority, s.PatientID),
		"created": created.Format(time.RFC3339),
		"source":  "urn:oid:" + s.SourceID,
	}
	if s.ContentTypeCode != nil {
		coding := fhir.Coding{Code: *s.ContentTypeCode}
		if s.ContentTypeScheme != nil {
			coding.System = "urn:oid:" + *s.ContentTypeScheme
		}
		result["type"] = fhir.CodeableConcept{Coding: []fhir.Coding{coding}}
	}
	if s.AuthorPerson != nil {
		result["author"] = []fhir.Reference{{Display: *s.AuthorPerson}}
	}
	if s.Title != nil {
		result["description"] = *s.Title
	}
	return result
}
