package documentmanifest

import (
	"context"

	"github.com/mag/gateway/internal/platform/xds"
)

// SubmissionSetRepository is a registry the gateway can both query and
// seed. Remote registries only implement xds.RegistryClient.
type SubmissionSetRepository interface {
	xds.RegistryClient
	Register(ctx context.Context, s *SubmissionSet) error
}
