package documentmanifest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/platform/xds"
)

// Service answers ITI-66 searches by translating them and handing the
// resulting stored query to a registry.
type Service struct {
	translator *Translator
	registry   xds.RegistryClient
	logger     zerolog.Logger
}

func NewService(translator *Translator, registry xds.RegistryClient, logger zerolog.Logger) *Service {
	return &Service{
		translator: translator,
		registry:   registry,
		logger:     logger.With().Str("component", "document_manifest").Logger(),
	}
}

// Search returns one page of matching DocumentManifest resources and the
// total number of matches. Translation errors are returned unwrapped.
func (s *Service) Search(ctx context.Context, criteria SearchCriteria, limit, offset int) ([]map[string]interface{}, int, error) {
	env, err := s.translator.Translate(criteria)
	if err != nil {
		return nil, 0, err
	}

	s.logger.Debug().
		Str("query", env.Query.QueryName()).
		Str("return_type", env.ReturnShape.String()).
		Msg("translated search")

	items, total, err := s.registry.Query(ctx, env, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("registry %s: %w", env.Query.QueryName(), err)
	}
	return items, total, nil
}
