package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// patientRepoPG keeps each record as a JSONB document with the same shape as
// the Mongo collection. uhi_no and status are lifted into columns for the
// unique constraint and listing index.
type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	id := uuid.New()
	p.ID = id.String()
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO patient (id, uhi_no, status, sl_no, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, p.UHINo, string(p.Status), p.SlNo, string(doc), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		p.ID = ""
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return DuplicateKeyf("patient with uhiNo %q already exists", p.UHINo)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}

func (r *patientRepoPG) ExistsByUHINo(ctx context.Context, uhiNo string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patient WHERE uhi_no = $1)`, uhiNo).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup uhiNo: %w", err)
	}
	return exists, nil
}

func (r *patientRepoPG) GetByUHINo(ctx context.Context, uhiNo string) (*Patient, error) {
	return scanDoc(r.pool.QueryRow(ctx, `SELECT id, doc FROM patient WHERE uhi_no = $1`, uhiNo), uhiNo)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	return scanDoc(r.pool.QueryRow(ctx, `SELECT id, doc FROM patient WHERE id = $1`, uid), id)
}

func (r *patientRepoPG) ListByStatus(ctx context.Context, status Status) ([]*Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doc FROM patient WHERE status = $1 ORDER BY created_at, sl_no`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanDoc(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	if out == nil {
		out = []*Patient{}
	}
	return out, nil
}

func (r *patientRepoPG) SetStatus(ctx context.Context, uhiNo string, status Status) (*Patient, error) {
	return r.mutate(ctx, `uhi_no = $1`, uhiNo, uhiNo, func(p *Patient) { p.Status = status })
}

func (r *patientRepoPG) SetVitals(ctx context.Context, id string, v Vitals) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	return r.mutate(ctx, `id = $1`, uid, id, func(p *Patient) { p.ApplyVitals(v) })
}

func (r *patientRepoPG) AppendReading(ctx context.Context, id, paramType string, reading Reading) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	return r.mutate(ctx, `id = $1`, uid, id, func(p *Patient) { p.AppendReading(paramType, reading) })
}

func (r *patientRepoPG) AppendNote(ctx context.Context, id string, n Note) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	return r.mutate(ctx, `id = $1`, uid, id, func(p *Patient) { p.Notes = append(p.Notes, n) })
}

func (r *patientRepoPG) SetIntake(ctx context.Context, uhiNo string, in Intake) (*Patient, error) {
	return r.mutate(ctx, `uhi_no = $1`, uhiNo, uhiNo, func(p *Patient) { p.ApplyIntake(in) })
}

func (r *patientRepoPG) SetSummary(ctx context.Context, id, summary string) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	return r.mutate(ctx, `id = $1`, uid, id, func(p *Patient) { p.Summary = summary })
}

func (r *patientRepoPG) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// mutate locks the row, applies fn to the decoded document and writes it
// back with a single UPDATE.
func (r *patientRepoPG) mutate(ctx context.Context, where string, arg any, key string, fn func(*Patient)) (*Patient, error) {
	var out *Patient
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := scanDoc(tx.QueryRow(ctx, `SELECT id, doc FROM patient WHERE `+where+` FOR UPDATE`, arg), key)
		if err != nil {
			return err
		}
		fn(p)
		p.UpdatedAt = time.Now().UTC()
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode patient: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE patient SET doc = $2, status = $3, updated_at = $4 WHERE id = $1`,
			uuid.MustParse(p.ID), string(doc), string(p.Status), p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanDoc(row pgx.Row, key string) (*Patient, error) {
	var (
		id  uuid.UUID
		doc []byte
	)
	if err := row.Scan(&id, &doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NotFoundf("patient %s not found", key)
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	var p Patient
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode patient: %w", err)
	}
	p.ID = id.String()
	if p.Parameters == nil {
		p.Parameters = []Parameter{}
	}
	if p.Notes == nil {
		p.Notes = []Note{}
	}
	return &p, nil
}
