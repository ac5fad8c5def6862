package documentmanifest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mag/gateway/internal/domain/pmir"
	"github.com/mag/gateway/internal/platform/fhir"
	"github.com/mag/gateway/internal/platform/xds"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGRegistry executes stored queries against the local submission_set
// table. It backs development deployments that have no remote registry.
type PGRegistry struct {
	db       queryable
	resolver *pmir.Resolver
}

var _ SubmissionSetRepository = (*PGRegistry)(nil)

func NewPGRegistry(pool *pgxpool.Pool, resolver *pmir.Resolver) *PGRegistry {
	return &PGRegistry{db: pool, resolver: resolver}
}

const ssCols = `id, entry_uuid, unique_id, patient_id, patient_authority, source_id, status,
	content_type_code, content_type_scheme, author_person, title, submission_time, created_at`

func scanSubmissionSet(row pgx.Row) (*SubmissionSet, error) {
	var s SubmissionSet
	err := row.Scan(&s.ID, &s.EntryUUID, &s.UniqueID, &s.PatientID, &s.PatientAuthority, &s.SourceID, &s.Status,
		&s.ContentTypeCode, &s.ContentTypeScheme, &s.AuthorPerson, &s.Title, &s.SubmissionTime, &s.CreatedAt)
	return &s, err
}

// Register stores a submission set, assigning ids that were left empty.
func (r *PGRegistry) Register(ctx context.Context, s *SubmissionSet) error {
	s.ID = uuid.New()
	if s.EntryUUID == "" {
		s.EntryUUID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = xds.StatusApproved.String()
	}
	if s.SubmissionTime.IsZero() {
		s.SubmissionTime = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO submission_set (id, entry_uuid, unique_id, patient_id, patient_authority, source_id, status,
			content_type_code, content_type_scheme, author_person, title, submission_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.EntryUUID, s.UniqueID, s.PatientID, s.PatientAuthority, s.SourceID, s.Status,
		s.ContentTypeCode, s.ContentTypeScheme, s.AuthorPerson, s.Title, s.SubmissionTime)
	if err != nil {
		return fmt.Errorf("register submission set: %w", err)
	}
	return nil
}

// Query implements xds.RegistryClient.
func (r *PGRegistry) Query(ctx context.Context, env *xds.QueryEnvelope, limit, offset int) ([]map[string]interface{}, int, error) {
	qb := fhir.NewSearchQuery("submission_set", ssCols)

	switch q := env.Query.(type) {
	case *xds.DirectLookup:
		if q.Unconstrained() {
			return nil, 0, nil
		}
		if q.UniqueID != "" {
			qb.Add(fmt.Sprintf("unique_id = $%d", qb.Idx()), q.UniqueID)
		}
		if q.UUID != "" {
			qb.Add(fmt.Sprintf("entry_uuid = $%d", qb.Idx()), q.UUID)
		}
	case *xds.FilteredSearch:
		applyFilteredSearch(qb, q)
	default:
		return nil, 0, fmt.Errorf("unsupported stored query %T", env.Query)
	}
	qb.OrderBy("submission_time DESC")

	var total int
	if err := r.db.QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submission sets: %w", err)
	}

	rows, err := r.db.Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query submission sets: %w", err)
	}
	defer rows.Close()

	var items []map[string]interface{}
	for rows.Next() {
		s, err := scanSubmissionSet(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan submission set: %w", err)
		}
		items = append(items, s.ToFHIR(r.resolver))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate submission sets: %w", err)
	}
	return items, total, nil
}

func applyFilteredSearch(qb *fhir.SearchQuery, q *xds.FilteredSearch) {
	if q.PatientID != nil {
		i := qb.Idx()
		qb.Add(fmt.Sprintf("(patient_authority = $%d AND patient_id = $%d)", i, i+1),
			q.PatientID.AuthorityOID, q.PatientID.Value)
	}
	if q.SubmissionTimeFrom != nil {
		qb.Add(fmt.Sprintf("submission_time >= $%d", qb.Idx()), *q.SubmissionTimeFrom)
	}
	if q.SubmissionTimeTo != nil {
		qb.Add(fmt.Sprintf("submission_time <= $%d", qb.Idx()), *q.SubmissionTimeTo)
	}
	if q.AuthorPerson != nil {
		qb.Add(fmt.Sprintf("author_person LIKE $%d", qb.Idx()), *q.AuthorPerson)
	}
	if len(q.ContentTypeCodes) > 0 {
		var ors []string
		var args []interface{}
		i := qb.Idx()
		for _, code := range q.ContentTypeCodes {
			if code.SchemeName == "" {
				ors = append(ors, fmt.Sprintf("content_type_code = $%d", i))
				args = append(args, code.Code)
				i++
				continue
			}
			ors = append(ors, fmt.Sprintf("(content_type_code = $%d AND content_type_scheme = $%d)", i, i+1))
			args = append(args, code.Code, code.SchemeName)
			i += 2
		}
		qb.Add("("+strings.Join(ors, " OR ")+")", args...)
	}
	if len(q.SourceIDs) > 0 {
		ids := make([]string, len(q.SourceIDs))
		for i, src := range q.SourceIDs {
			_, ids[i] = xds.StripURNPrefix(src)
		}
		qb.AddIn("source_id", ids)
	}
	if q.Status.Applied {
		names := make([]string, len(q.Status.Values))
		for i, s := range q.Status.Values {
			names[i] = s.String()
		}
		qb.AddIn("status", names)
	}
}
