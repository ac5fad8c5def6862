package documentmanifest

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mag/gateway/internal/platform/fhir"
	"github.com/mag/gateway/pkg/fhirmodels"
)

// Token is a FHIR token search value, "system|value".
type Token struct {
	System string
	Value  string
}

// DateRange bounds a search on creation time. Either end may be open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// SearchCriteria is the set of ITI-66 search parameters a client sent.
// A nil field means the parameter was absent and does not constrain the
// search.
type SearchCriteria struct {
	Identifier        *string
	ID                *string
	PatientIdentifier *Token
	PatientReference  *string
	Created           *DateRange
	AuthorGiven       *string
	AuthorFamily      *string
	Types             []Token
	Sources           []string
	Statuses          []string
	Code              *string
}

// ParameterError reports a search parameter whose value could not be read.
type ParameterError struct {
	Param string
	Value string
	Err   error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid value %q for search parameter %s: %v", e.Value, e.Param, e.Err)
}

func (e *ParameterError) Unwrap() error { return e.Err }

// CriteriaFromQuery binds request parameters to SearchCriteria. Unknown
// parameters are ignored.
func CriteriaFromQuery(params url.Values) (SearchCriteria, error) {
	var c SearchCriteria

	if v := first(params, fhirmodels.ParamIdentifier); v != nil {
		value := tokenValue(*v)
		c.Identifier = &value
	}
	c.ID = first(params, fhirmodels.ParamID)
	if v := first(params, fhirmodels.ParamCode); v != nil {
		value := tokenValue(*v)
		c.Code = &value
	}

	if v := first(params, fhirmodels.ParamPatientIdentifier); v != nil {
		tok := parseToken(*v)
		c.PatientIdentifier = &tok
	}
	c.PatientReference = first(params, fhirmodels.ParamPatient)

	for _, raw := range params[fhirmodels.ParamCreated] {
		if raw == "" {
			continue
		}
		from, to, err := fhir.DateBounds(raw)
		if err != nil {
			return SearchCriteria{}, &ParameterError{Param: fhirmodels.ParamCreated, Value: raw, Err: err}
		}
		if c.Created == nil {
			c.Created = &DateRange{}
		}
		if from != nil {
			c.Created.From = from
		}
		if to != nil {
			c.Created.To = to
		}
	}

	c.AuthorGiven = first(params, fhirmodels.ParamAuthorGiven)
	c.AuthorFamily = first(params, fhirmodels.ParamAuthorFamily)

	for _, raw := range splitList(params[fhirmodels.ParamType]) {
		c.Types = append(c.Types, parseToken(raw))
	}
	for _, raw := range splitList(params[fhirmodels.ParamSource]) {
		c.Sources = append(c.Sources, tokenValue(raw))
	}
	for _, raw := range splitList(params[fhirmodels.ParamStatus]) {
		c.Statuses = append(c.Statuses, tokenValue(raw))
	}

	return c, nil
}

func first(params url.Values, name string) *string {
	v := strings.TrimSpace(params.Get(name))
	if v == "" {
		return nil
	}
	return &v
}

// splitList flattens repeated and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseToken(raw string) Token {
	if system, value, ok := strings.Cut(raw, "|"); ok {
		return Token{System: system, Value: value}
	}
	return Token{Value: raw}
}

func tokenValue(raw string) string {
	return parseToken(raw).Value
}
