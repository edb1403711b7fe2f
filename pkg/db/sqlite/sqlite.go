// Package sqlite is a single-host job registry on SQLite.
//
// Mutations run in "BEGIN IMMEDIATE" transactions, so writers are serialized
// across processes sharing the database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cmcf/autoprocess/pkg/db"
	"github.com/cmcf/autoprocess/pkg/domain"
	xe "github.com/cmcf/autoprocess/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	stage TEXT NOT NULL,
	descriptor TEXT NOT NULL,
	state TEXT NOT NULL,
	artifacts TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_seq ON jobs(seq);
CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);

CREATE TABLE IF NOT EXISTS assignments (
	job_id TEXT PRIMARY KEY REFERENCES jobs(job_id) ON DELETE CASCADE,
	node_id TEXT NOT NULL,
	lease_id TEXT NOT NULL,
	lease_expiry INTEGER NOT NULL,
	assigned_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assignments_node ON assignments(node_id);
`

type sqliteDB struct {
	conn *sql.DB
	jobs *jobs
}

// Open opens (or creates) the database file at path.
func Open(ctx context.Context, path string) (db.Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open(
		"sqlite3",
		path+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=10000&_txlock=immediate",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &sqliteDB{conn: conn, jobs: &jobs{conn: conn}}, nil
}

func (s *sqliteDB) Jobs() db.JobInterface {
	return s.jobs
}

func (s *sqliteDB) Close() error {
	return s.conn.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type jobs struct {
	conn *sql.DB
}

var _ db.JobInterface = &jobs{}

func (j *jobs) tx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		return err
	}
	return xe.Wrap(tx.Commit())
}

const selectJob = `
SELECT
	j.job_id, j.stage, j.descriptor, j.state, j.artifacts, j.created_at, j.updated_at,
	a.node_id, a.lease_id, a.lease_expiry, a.assigned_at
FROM jobs j LEFT JOIN assignments a ON a.job_id = j.job_id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (domain.Job, error) {
	var r db.Record
	var stage, desc, state, arts string
	var created, updated int64
	var nodeId, leaseId sql.NullString
	var expiry, assigned sql.NullInt64
	if err := row.Scan(
		&r.JobId, &stage, &desc, &state, &arts, &created, &updated,
		&nodeId, &leaseId, &expiry, &assigned,
	); err != nil {
		return domain.Job{}, err
	}
	r.Stage = domain.Stage(stage)
	r.Descriptor = []byte(desc)
	r.State = []byte(state)
	r.Artifacts = []byte(arts)
	r.CreatedAt = fromUnix(created)
	r.UpdatedAt = fromUnix(updated)

	var a *domain.NodeAssignment
	if nodeId.Valid {
		a = &domain.NodeAssignment{
			JobId:       r.JobId,
			NodeId:      nodeId.String,
			LeaseId:     leaseId.String,
			LeaseExpiry: fromUnix(expiry.Int64),
			AssignedAt:  fromUnix(assigned.Int64),
		}
	}
	return db.Decode(r, a)
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func get(ctx context.Context, q queryer, jobId string) (domain.Job, error) {
	job, err := scanJob(q.QueryRowContext(ctx, selectJob+`WHERE j.job_id = ?`, jobId))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, db.Missing{Table: "jobs", Identity: jobId}
	} else if err != nil {
		return domain.Job{}, xe.Wrap(err)
	}
	return job, nil
}

// put writes job and its assignment over the existing record.
func put(ctx context.Context, q queryer, job domain.Job) error {
	r, a, err := db.Encode(job)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(
		ctx,
		`UPDATE jobs SET stage = ?, descriptor = ?, state = ?, artifacts = ?, updated_at = ? WHERE job_id = ?`,
		string(r.Stage), string(r.Descriptor), string(r.State), string(r.Artifacts), r.UpdatedAt.UnixNano(), r.JobId,
	); err != nil {
		return xe.Wrap(err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM assignments WHERE job_id = ?`, r.JobId); err != nil {
		return xe.Wrap(err)
	}
	if a == nil {
		return nil
	}
	if _, err := q.ExecContext(
		ctx,
		`INSERT INTO assignments (job_id, node_id, lease_id, lease_expiry, assigned_at) VALUES (?, ?, ?, ?, ?)`,
		r.JobId, a.NodeId, a.LeaseId, a.LeaseExpiry.UnixNano(), a.AssignedAt.UnixNano(),
	); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (j *jobs) New(ctx context.Context, job domain.Job) error {
	r, _, err := db.Encode(job)
	if err != nil {
		return err
	}

	return j.tx(ctx, func(tx *sql.Tx) error {
		var stage string
		err := tx.QueryRowContext(ctx, `SELECT stage FROM jobs WHERE job_id = ?`, r.JobId).Scan(&stage)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return xe.Wrap(err)
		case !domain.Stage(stage).Terminal():
			return fmt.Errorf("%w: %s", domain.ErrDuplicateJob, r.JobId)
		default:
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, r.JobId); err != nil {
				return xe.Wrap(err)
			}
		}

		if _, err := tx.ExecContext(
			ctx,
			`
			INSERT INTO jobs (job_id, seq, stage, descriptor, state, artifacts, created_at, updated_at)
			VALUES (?, (SELECT coalesce(max(seq), 0) + 1 FROM jobs), ?, ?, ?, ?, ?, ?)
			`,
			r.JobId, string(r.Stage), string(r.Descriptor), string(r.State), string(r.Artifacts),
			r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
		); err != nil {
			return xe.Wrap(err)
		}
		return nil
	})
}

func (j *jobs) Get(ctx context.Context, jobId string) (domain.Job, error) {
	return get(ctx, j.conn, jobId)
}

func (j *jobs) List(ctx context.Context, query domain.JobQuery) ([]domain.Job, error) {
	q := selectJob
	args := []any{}
	if len(query.Stages) != 0 {
		ph := make([]string, len(query.Stages))
		for i, s := range query.Stages {
			ph[i] = "?"
			args = append(args, string(s))
		}
		q += `WHERE j.stage IN (` + strings.Join(ph, ", ") + `) `
	}
	q += `ORDER BY j.seq`
	if 0 < query.Limit {
		q += ` LIMIT ?`
		args = append(args, query.Limit)
	}

	rows, err := j.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	ret := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		ret = append(ret, job)
	}
	return ret, xe.Wrap(rows.Err())
}

func mutate(ctx context.Context, tx *sql.Tx, job domain.Job, mutation db.Mutation) (domain.Job, error) {
	if err := mutation(&job); err != nil {
		return domain.Job{}, err
	}
	if err := put(ctx, tx, job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (j *jobs) Update(ctx context.Context, jobId string, mutation db.Mutation) (domain.Job, error) {
	var ret domain.Job
	err := j.tx(ctx, func(tx *sql.Tx) error {
		job, err := get(ctx, tx, jobId)
		if err != nil {
			return err
		}
		ret, err = mutate(ctx, tx, job, mutation)
		return err
	})
	return ret, err
}

func active(ctx context.Context, q queryer, nodeId string) (int, error) {
	var n int
	if err := q.QueryRowContext(
		ctx, `SELECT count(*) FROM assignments WHERE node_id = ?`, nodeId,
	).Scan(&n); err != nil {
		return 0, xe.Wrap(err)
	}
	return n, nil
}

func assign(ctx context.Context, tx *sql.Tx, job domain.Job, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	n, err := active(ctx, tx, node.Id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := db.CheckAssignable(job, node, n); err != nil {
		return domain.Job{}, err
	}
	return mutate(ctx, tx, job, func(job *domain.Job) error {
		if err := mutation(job); err != nil {
			return err
		}
		return db.CheckAssigned(*job, node)
	})
}

func (j *jobs) Assign(ctx context.Context, jobId string, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	var ret domain.Job
	err := j.tx(ctx, func(tx *sql.Tx) error {
		job, err := get(ctx, tx, jobId)
		if err != nil {
			return err
		}
		ret, err = assign(ctx, tx, job, node, mutation)
		return err
	})
	return ret, err
}

func (j *jobs) Claim(ctx context.Context, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	var ret domain.Job
	err := j.tx(ctx, func(tx *sql.Tx) error {
		n, err := active(ctx, tx, node.Id)
		if err != nil {
			return err
		}
		if err := db.CheckCapacity(node, n); err != nil {
			return err
		}

		var jobId string
		err = tx.QueryRowContext(
			ctx,
			`
			SELECT j.job_id FROM jobs j
			WHERE j.stage NOT IN (?, ?)
				AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.job_id = j.job_id)
			ORDER BY j.seq
			LIMIT 1
			`,
			string(domain.Done), string(domain.Failed),
		).Scan(&jobId)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNoJob
		} else if err != nil {
			return xe.Wrap(err)
		}

		job, err := get(ctx, tx, jobId)
		if err != nil {
			return err
		}
		ret, err = assign(ctx, tx, job, node, mutation)
		return err
	})
	return ret, err
}

func (j *jobs) Expired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := j.conn.QueryContext(
		ctx,
		`
		SELECT a.job_id FROM assignments a JOIN jobs j ON j.job_id = a.job_id
		WHERE a.lease_expiry <= ?
		ORDER BY j.seq
		`,
		now.UnixNano(),
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	ret := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xe.Wrap(err)
		}
		ret = append(ret, id)
	}
	return ret, xe.Wrap(rows.Err())
}

func (j *jobs) Assignments(ctx context.Context) (map[string][]domain.NodeAssignment, error) {
	rows, err := j.conn.QueryContext(
		ctx,
		`
		SELECT a.job_id, a.node_id, a.lease_id, a.lease_expiry, a.assigned_at
		FROM assignments a JOIN jobs j ON j.job_id = a.job_id
		ORDER BY j.seq
		`,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	ret := map[string][]domain.NodeAssignment{}
	for rows.Next() {
		var a domain.NodeAssignment
		var expiry, assigned int64
		if err := rows.Scan(&a.JobId, &a.NodeId, &a.LeaseId, &expiry, &assigned); err != nil {
			return nil, xe.Wrap(err)
		}
		a.LeaseExpiry = fromUnix(expiry)
		a.AssignedAt = fromUnix(assigned)
		ret[a.NodeId] = append(ret[a.NodeId], a)
	}
	return ret, xe.Wrap(rows.Err())
}
