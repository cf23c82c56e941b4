package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SirClappington/tagq/internal/domain"
)

// InsertJob persists a job record (source of truth) and returns its id, generating one
// when the record has none.
func (s *Store) InsertJob(ctx context.Context, j domain.JobRecord) (string, error) {
	if j.JobID == "" {
		j.JobID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = domain.Created
	}
	cfg, err := json.Marshal(j.Configuration)
	if err != nil {
		return "", errors.Wrap(err, "encode configuration")
	}
	_, err = s.db.ExecContext(ctx,
		`insert into jobs (id, tenant_id, job_type, status, configuration) values ($1, $2, $3, $4, $5)`,
		j.JobID, j.TenantID, j.JobType, string(j.Status), cfg)
	if err != nil {
		return "", errors.Wrapf(err, "insert job %s", j.JobID)
	}
	return j.JobID, nil
}

func (s *Store) LoadJob(ctx context.Context, id string) (domain.JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, tenant_id, job_type, status, configuration, created_at, updated_at from jobs where id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return j, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return j, errors.Wrapf(err, "load job %s", id)
}

func (s *Store) ListJobs(ctx context.Context, status domain.Status) ([]domain.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, tenant_id, job_type, status, configuration, created_at, updated_at
		   from jobs where status = $1 order by created_at asc`, string(status))
	if err != nil {
		return nil, errors.Wrapf(err, "list %s jobs", status)
	}
	defer rows.Close()
	var out []domain.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "iterate jobs")
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := s.db.ExecContext(ctx,
		`update jobs set status = $2, updated_at = now() where id = $1`, id, string(status))
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return nil
}

func scanJob(sc scanner) (domain.JobRecord, error) {
	var (
		j      domain.JobRecord
		status string
		cfg    []byte
	)
	if err := sc.Scan(&j.JobID, &j.TenantID, &j.JobType, &status, &cfg, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return j, err
	}
	j.Status = domain.Status(status)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &j.Configuration); err != nil {
			return j, errors.Wrapf(err, "decode configuration of job %s", j.JobID)
		}
	}
	return j, nil
}
