// Package postgres is the job registry on PostgreSQL.
//
// Job rows are locked with "for update" in the mutation transaction,
// and node capacity is guarded with a transaction-scoped advisory lock per node.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/cmcf/autoprocess/pkg/db"
	kpool "github.com/cmcf/autoprocess/pkg/db/postgres/pool"
	"github.com/cmcf/autoprocess/pkg/domain"
	xe "github.com/cmcf/autoprocess/pkg/errors"
)

const Schema = `
create sequence if not exists "job_seq";

create table if not exists "job" (
	"job_id" varchar primary key,
	"seq" bigint not null default nextval('job_seq'),
	"stage" varchar not null,
	"descriptor" jsonb not null,
	"state" jsonb not null,
	"artifacts" jsonb not null default '{}',
	"created_at" timestamp with time zone not null,
	"updated_at" timestamp with time zone not null
);
create index if not exists "job_seq_idx" on "job" ("seq");
create index if not exists "job_stage_idx" on "job" ("stage");

create table if not exists "assignment" (
	"job_id" varchar primary key references "job" ("job_id") on delete cascade,
	"node_id" varchar not null,
	"lease_id" varchar not null,
	"lease_expiry" timestamp with time zone not null,
	"assigned_at" timestamp with time zone not null
);
create index if not exists "assignment_node_idx" on "assignment" ("node_id");
`

type postgresDB struct {
	pool kpool.Pool
	jobs *jobs
}

// New connects to the database at url and prepares tables.
func New(ctx context.Context, url string) (db.Database, error) {
	p, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	pool := kpool.Wrap(p)
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, xe.WrapWithNote("applying schema", err)
	}
	return &postgresDB{pool: pool, jobs: &jobs{pool: pool}}, nil
}

// Wrap builds a Database on a pool whose schema is already applied.
func Wrap(pool kpool.Pool) db.Database {
	return &postgresDB{pool: pool, jobs: &jobs{pool: pool}}
}

func (p *postgresDB) Jobs() db.JobInterface {
	return p.jobs
}

func (p *postgresDB) Close() error {
	p.pool.Close()
	return nil
}

type jobs struct {
	pool kpool.Pool
}

var _ db.JobInterface = &jobs{}

func (j *jobs) tx(ctx context.Context, f func(tx kpool.Tx) error) error {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := f(tx); err != nil {
		return err
	}
	return xe.Wrap(tx.Commit(ctx))
}

func jsonb(b []byte) pgtype.JSONB {
	return pgtype.JSONB{Bytes: b, Status: pgtype.Present}
}

const selectJob = `
select
	"job"."job_id", "job"."stage", "job"."descriptor", "job"."state", "job"."artifacts",
	"job"."created_at", "job"."updated_at",
	"assignment"."node_id", "assignment"."lease_id",
	"assignment"."lease_expiry", "assignment"."assigned_at"
from "job" left join "assignment" using ("job_id")
`

func scanJob(row pgx.Row) (domain.Job, error) {
	var r db.Record
	var stage string
	var desc, state, arts pgtype.JSONB
	var nodeId, leaseId pgtype.Varchar
	var expiry, assigned pgtype.Timestamptz
	if err := row.Scan(
		&r.JobId, &stage, &desc, &state, &arts,
		&r.CreatedAt, &r.UpdatedAt,
		&nodeId, &leaseId, &expiry, &assigned,
	); err != nil {
		return domain.Job{}, err
	}
	r.Stage = domain.Stage(stage)
	r.Descriptor = desc.Bytes
	r.State = state.Bytes
	r.Artifacts = arts.Bytes

	var a *domain.NodeAssignment
	if nodeId.Status == pgtype.Present {
		a = &domain.NodeAssignment{
			JobId:       r.JobId,
			NodeId:      nodeId.String,
			LeaseId:     leaseId.String,
			LeaseExpiry: expiry.Time,
			AssignedAt:  assigned.Time,
		}
	}
	return db.Decode(r, a)
}

// get reads a job. With lock, the job row is locked until the end of tx.
func get(ctx context.Context, q kpool.Queryer, jobId string, lock bool) (domain.Job, error) {
	query := selectJob + `where "job"."job_id" = $1`
	if lock {
		query += ` for update of "job"`
	}
	job, err := scanJob(q.QueryRow(ctx, query, jobId))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, db.Missing{Table: "job", Identity: jobId}
	} else if err != nil {
		return domain.Job{}, xe.Wrap(err)
	}
	return job, nil
}

func put(ctx context.Context, q kpool.Queryer, job domain.Job) error {
	r, a, err := db.Encode(job)
	if err != nil {
		return err
	}

	if _, err := q.Exec(
		ctx,
		`
		update "job"
		set "stage" = $2, "descriptor" = $3, "state" = $4, "artifacts" = $5, "updated_at" = $6
		where "job_id" = $1
		`,
		r.JobId, string(r.Stage), jsonb(r.Descriptor), jsonb(r.State), jsonb(r.Artifacts), r.UpdatedAt,
	); err != nil {
		return xe.Wrap(err)
	}

	if a == nil {
		if _, err := q.Exec(ctx, `delete from "assignment" where "job_id" = $1`, r.JobId); err != nil {
			return xe.Wrap(err)
		}
		return nil
	}

	if _, err := q.Exec(
		ctx,
		`
		insert into "assignment" ("job_id", "node_id", "lease_id", "lease_expiry", "assigned_at")
		values ($1, $2, $3, $4, $5)
		on conflict ("job_id") do update
		set "node_id" = $2, "lease_id" = $3, "lease_expiry" = $4, "assigned_at" = $5
		`,
		r.JobId, a.NodeId, a.LeaseId, a.LeaseExpiry, a.AssignedAt,
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

	return j.tx(ctx, func(tx kpool.Tx) error {
		var stage string
		err := tx.QueryRow(
			ctx, `select "stage" from "job" where "job_id" = $1 for update`, r.JobId,
		).Scan(&stage)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return xe.Wrap(err)
		case !domain.Stage(stage).Terminal():
			return fmt.Errorf("%w: %s", domain.ErrDuplicateJob, r.JobId)
		default:
			if _, err := tx.Exec(ctx, `delete from "job" where "job_id" = $1`, r.JobId); err != nil {
				return xe.Wrap(err)
			}
		}

		if _, err := tx.Exec(
			ctx,
			`
			insert into "job" ("job_id", "stage", "descriptor", "state", "artifacts", "created_at", "updated_at")
			values ($1, $2, $3, $4, $5, $6, $7)
			`,
			r.JobId, string(r.Stage), jsonb(r.Descriptor), jsonb(r.State), jsonb(r.Artifacts),
			r.CreatedAt, r.UpdatedAt,
		); err != nil {
			if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateJob, r.JobId)
			}
			return xe.Wrap(err)
		}
		return nil
	})
}

func (j *jobs) Get(ctx context.Context, jobId string) (domain.Job, error) {
	return get(ctx, j.pool, jobId, false)
}

func (j *jobs) List(ctx context.Context, query domain.JobQuery) ([]domain.Job, error) {
	stages := make([]string, len(query.Stages))
	for i := range query.Stages {
		stages[i] = string(query.Stages[i])
	}
	var limit *int
	if 0 < query.Limit {
		limit = &query.Limit
	}

	rows, err := j.pool.Query(
		ctx,
		selectJob+`
		where cardinality($1::varchar[]) = 0 or "job"."stage" = any($1::varchar[])
		order by "job"."seq"
		limit $2
		`,
		stages, limit,
	)
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

func mutate(ctx context.Context, tx kpool.Tx, job domain.Job, mutation db.Mutation) (domain.Job, error) {
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
	err := j.tx(ctx, func(tx kpool.Tx) error {
		job, err := get(ctx, tx, jobId, true)
		if err != nil {
			return err
		}
		ret, err = mutate(ctx, tx, job, mutation)
		return err
	})
	return ret, err
}

// lockNode serializes assignments to a node until the end of tx, and counts its assignments.
func lockNode(ctx context.Context, tx kpool.Tx, nodeId string) (int, error) {
	if _, err := tx.Exec(ctx, `select pg_advisory_xact_lock(hashtext($1))`, nodeId); err != nil {
		return 0, xe.Wrap(err)
	}
	var n int
	if err := tx.QueryRow(
		ctx, `select count(*) from "assignment" where "node_id" = $1`, nodeId,
	).Scan(&n); err != nil {
		return 0, xe.Wrap(err)
	}
	return n, nil
}

func assign(ctx context.Context, tx kpool.Tx, job domain.Job, node domain.Node, active int, mutation db.Mutation) (domain.Job, error) {
	if err := db.CheckAssignable(job, node, active); err != nil {
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
	err := j.tx(ctx, func(tx kpool.Tx) error {
		active, err := lockNode(ctx, tx, node.Id)
		if err != nil {
			return err
		}
		job, err := get(ctx, tx, jobId, true)
		if err != nil {
			return err
		}
		ret, err = assign(ctx, tx, job, node, active, mutation)
		return err
	})
	return ret, err
}

func (j *jobs) Claim(ctx context.Context, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	var ret domain.Job
	err := j.tx(ctx, func(tx kpool.Tx) error {
		active, err := lockNode(ctx, tx, node.Id)
		if err != nil {
			return err
		}
		if err := db.CheckCapacity(node, active); err != nil {
			return err
		}

		var jobId string
		err = tx.QueryRow(
			ctx,
			`
			select "job_id" from "job"
			where "stage" <> all($1::varchar[])
				and not exists (select 1 from "assignment" where "assignment"."job_id" = "job"."job_id")
			order by "seq"
			limit 1
			for update skip locked
			`,
			[]string{string(domain.Done), string(domain.Failed)},
		).Scan(&jobId)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNoJob
		} else if err != nil {
			return xe.Wrap(err)
		}

		job, err := get(ctx, tx, jobId, true)
		if err != nil {
			return err
		}
		ret, err = assign(ctx, tx, job, node, active, mutation)
		return err
	})
	return ret, err
}

func (j *jobs) Expired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := j.pool.Query(
		ctx,
		`
		select "assignment"."job_id" from "assignment" inner join "job" using ("job_id")
		where "assignment"."lease_expiry" <= $1
		order by "job"."seq"
		`,
		now,
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
	rows, err := j.pool.Query(
		ctx,
		`
		select
			"assignment"."job_id", "assignment"."node_id", "assignment"."lease_id",
			"assignment"."lease_expiry", "assignment"."assigned_at"
		from "assignment" inner join "job" using ("job_id")
		order by "job"."seq"
		`,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	ret := map[string][]domain.NodeAssignment{}
	for rows.Next() {
		var a domain.NodeAssignment
		if err := rows.Scan(&a.JobId, &a.NodeId, &a.LeaseId, &a.LeaseExpiry, &a.AssignedAt); err != nil {
			return nil, xe.Wrap(err)
		}
		ret[a.NodeId] = append(ret[a.NodeId], a)
	}
	return ret, xe.Wrap(rows.Err())
}
