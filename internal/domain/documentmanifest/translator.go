package documentmanifest

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/domain/pmir"
	"github.com/mag/gateway/internal/platform/metrics"
	"github.com/mag/gateway/internal/platform/xds"
	"github.com/mag/gateway/pkg/fhirmodels"
)

// Translator turns ITI-66 search criteria into an ITI-18 stored query.
// It holds no mutable state and is safe for concurrent use.
type Translator struct {
	mapper   *xds.SchemeMapper
	resolver *pmir.Resolver
	logger   zerolog.Logger
}

func NewTranslator(mapper *xds.SchemeMapper, resolver *pmir.Resolver, logger zerolog.Logger) *Translator {
	return &Translator{
		mapper:   mapper,
		resolver: resolver,
		logger:   logger.With().Str("component", "translator").Logger(),
	}
}

// Translate builds the registry query for c. Only submission set searches
// are supported; a direct identifier or id selects a single-set lookup,
// anything else a filtered search.
func (t *Translator) Translate(c SearchCriteria) (*xds.QueryEnvelope, error) {
	env, err := t.translate(c)
	if err != nil {
		metrics.TranslationErrors.WithLabelValues(errorKind(err)).Inc()
		return nil, err
	}
	metrics.Translations.WithLabelValues(env.Query.QueryName()).Inc()
	return env, nil
}

func (t *Translator) translate(c SearchCriteria) (*xds.QueryEnvelope, error) {
	if c.Code != nil && *c.Code != fhirmodels.SubmissionSetCode {
		return nil, &xds.UnsupportedSearchError{ResourceType: *c.Code}
	}

	var query xds.StructuredQuery
	if c.Identifier != nil || c.ID != nil {
		query = t.directLookup(c)
	} else {
		fs, err := t.filteredSearch(c)
		if err != nil {
			return nil, err
		}
		query = fs
	}

	return &xds.QueryEnvelope{Query: query, ReturnShape: xds.LeafClass}, nil
}

func (t *Translator) directLookup(c SearchCriteria) *xds.DirectLookup {
	q := &xds.DirectLookup{}
	if c.Identifier == nil {
		q.UUID = *c.ID
		return q
	}

	kind, rest := xds.StripURNPrefix(*c.Identifier)
	switch kind {
	case xds.URNOID:
		q.UniqueID = rest
	case xds.URNUUID:
		q.UUID = rest
	default:
		t.logger.Debug().Str("identifier", *c.Identifier).Msg("identifier has no urn:oid or urn:uuid prefix, lookup is unconstrained")
	}
	return q
}

func (t *Translator) filteredSearch(c SearchCriteria) (*xds.FilteredSearch, error) {
	q := &xds.FilteredSearch{}

	if c.PatientIdentifier != nil {
		oid, err := t.mapper.ResolveScheme(c.PatientIdentifier.System)
		if err != nil {
			return nil, err
		}
		id := xds.NewIdentifiable(c.PatientIdentifier.Value, oid)
		q.PatientID = &id
	}
	if c.PatientReference != nil {
		if id, ok := t.resolver.ResolveReference(*c.PatientReference); ok {
			q.PatientID = id
		} else {
			t.logger.Debug().Str("reference", *c.PatientReference).Msg("patient reference not resolvable, ignored")
		}
	}

	if c.Created != nil {
		q.SubmissionTimeFrom = c.Created.From
		q.SubmissionTimeTo = c.Created.To
	}

	if c.AuthorGiven != nil || c.AuthorFamily != nil {
		pattern := orWildcard(c.AuthorGiven) + " " + orWildcard(c.AuthorFamily)
		q.AuthorPerson = &pattern
	}

	for _, tok := range c.Types {
		scheme := tok.System
		if oid, err := t.mapper.ResolveScheme(tok.System); err == nil {
			scheme = oid
		}
		q.ContentTypeCodes = append(q.ContentTypeCodes, xds.Code{Code: tok.Value, SchemeName: scheme})
	}

	if len(c.Sources) > 0 {
		q.SourceIDs = append([]string(nil), c.Sources...)
	}

	if len(c.Statuses) > 0 {
		q.Status.Applied = true
		for _, token := range c.Statuses {
			if s, ok := t.mapper.MapStatusToken(token); ok {
				q.Status.Values = append(q.Status.Values, s)
			}
		}
	}

	return q, nil
}

func orWildcard(s *string) string {
	if s == nil {
		return "%"
	}
	return *s
}

func errorKind(err error) string {
	var unsupported *xds.UnsupportedSearchError
	var missing *xds.MissingSchemeError
	switch {
	case errors.As(err, &unsupported):
		return "unsupported_search"
	case errors.As(err, &missing):
		return "missing_scheme"
	default:
		return "other"
	}
}
