package documentmanifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mag/gateway/internal/platform/xds"
)

// SeedError reports a seed entry that cannot be registered.
type SeedError struct {
	Index int
	Field string
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seed entry %d: %s is required", e.Index, e.Field)
}

// Seed reads a JSON array of submission sets from r and registers each in
// repo. Authorities and source ids may carry a urn:oid: prefix. All entries
// are validated before the first is registered. It returns the number of
// sets registered.
func Seed(ctx context.Context, repo SubmissionSetRepository, r io.Reader) (int, error) {
	var sets []SubmissionSet
	if err := json.NewDecoder(r).Decode(&sets); err != nil {
		return 0, fmt.Errorf("decoding seed file: %w", err)
	}

	for i := range sets {
		if err := normalizeSeed(i, &sets[i]); err != nil {
			return 0, err
		}
	}

	for i := range sets {
		if err := repo.Register(ctx, &sets[i]); err != nil {
			return i, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return len(sets), nil
}

func normalizeSeed(i int, s *SubmissionSet) error {
	_, s.PatientAuthority = xds.StripURNPrefix(strings.TrimSpace(s.PatientAuthority))
	_, s.SourceID = xds.StripURNPrefix(strings.TrimSpace(s.SourceID))
	_, s.UniqueID = xds.StripURNPrefix(strings.TrimSpace(s.UniqueID))
	s.PatientID = strings.TrimSpace(s.PatientID)

	required := []struct {
		field string
		value string
	}{
		{"unique_id", s.UniqueID},
		{"patient_id", s.PatientID},
		{"patient_authority", s.PatientAuthority},
		{"source_id", s.SourceID},
	}
	for _, r := range required {
		if r.value == "" {
			return &SeedError{Index: i, Field: r.field}
		}
	}

	switch s.Status {
	case "", xds.StatusApproved.String(), xds.StatusDeprecated.String():
	default:
		return fmt.Errorf("seed entry %d: status %q is not %s or %s",
			i, s.Status, xds.StatusApproved, xds.StatusDeprecated)
	}
	return nil
}
