package fhirmodels

// DocumentManifest status codes (FHIR document-reference-status).
const (
	DocumentManifestStatusCurrent        = "current"
	DocumentManifestStatusSuperseded     = "superseded"
	DocumentManifestStatusEnteredInError = "entered-in-error"
)

// DocumentManifest search parameter names accepted on ITI-66.
const (
	ParamIdentifier        = "identifier"
	ParamID                = "_id"
	ParamCode              = "code"
	ParamPatient           = "patient"
	ParamPatientIdentifier = "patient.identifier"
	ParamCreated           = "created"
	ParamAuthorGiven       = "author.given"
	ParamAuthorFamily      = "author.family"
	ParamType              = "type"
	ParamSource            = "source"
	ParamStatus            = "status"
)

// SubmissionSetCode is the only resource code this gateway searches.
const SubmissionSetCode = "submissionset"
