package xds

import (
	"context"

	"github.com/rs/zerolog"
)

// RegistryClient executes a translated query against a document registry
// and returns the matching submission sets as FHIR resources.
type RegistryClient interface {
	Query(ctx context.Context, envelope *QueryEnvelope, limit, offset int) ([]map[string]interface{}, int, error)
}

// NopRegistry logs each query and returns no results. It stands in for a
// registry backend in deployments that only exercise the translation layer.
type NopRegistry struct {
	logger zerolog.Logger
}

func NewNopRegistry(logger zerolog.Logger) *NopRegistry {
	return &NopRegistry{logger: logger.With().Str("component", "registry").Logger()}
}

func (r *NopRegistry) Query(ctx context.Context, envelope *QueryEnvelope, limit, offset int) ([]map[string]interface{}, int, error) {
	r.logger.Info().
		Str("query", envelope.Query.QueryName()).
		Str("return_type", envelope.ReturnShape.String()).
		Interface("envelope", envelope).
		Msg("registry query (no backend configured)")
	return nil, 0, nil
}
