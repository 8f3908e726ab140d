package consult

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

func (r *caseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const caseCols = `id, patient_name, patient_ref, description,
	doctor_id, doctor_name, doctor_type,
	pharmacist_id, pharmacist_name, pharmacist_type,
	doctor_completed, pharmacist_completed,
	doctor_completed_at, pharmacist_completed_at,
	incomplete, incomplete_reason, transfer_count, created_by,
	created_at, updated_at, completed_at`

// activeLeg matches cases where $1 still holds an open leg.
const activeLeg = `NOT incomplete AND (
	(doctor_id = $1 AND NOT doctor_completed) OR
	(pharmacist_id = $1 AND NOT pharmacist_completed))`

func (r *caseRepoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.PatientName, &c.PatientRef, &c.Description,
		&c.DoctorID, &c.DoctorName, &c.DoctorType,
		&c.PharmacistID, &c.PharmacistName, &c.PharmacistType,
		&c.DoctorCompleted, &c.PharmacistCompleted,
		&c.DoctorCompletedAt, &c.PharmacistCompletedAt,
		&c.Incomplete, &c.IncompleteReason, &c.TransferCount, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt, &c.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consult_case (id, patient_name, patient_ref, description,
			doctor_id, doctor_name, doctor_type,
			pharmacist_id, pharmacist_name, pharmacist_type, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.PatientName, c.PatientRef, c.Description,
		c.DoctorID, c.DoctorName, c.DoctorType,
		c.PharmacistID, c.PharmacistName, c.PharmacistType, c.CreatedBy)
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM consult_case WHERE id = $1`, id))
}

func (r *caseRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM consult_case WHERE id = $1 FOR UPDATE`, id))
}

func (r *caseRepoPG) Update(ctx context.Context, c *Case) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consult_case SET
			patient_name=$2, patient_ref=$3, description=$4,
			doctor_id=$5, doctor_name=$6, doctor_type=$7,
			pharmacist_id=$8, pharmacist_name=$9, pharmacist_type=$10,
			doctor_completed=$11, pharmacist_completed=$12,
			doctor_completed_at=$13, pharmacist_completed_at=$14,
			incomplete=$15, incomplete_reason=$16,
			transfer_count=$17, completed_at=$18, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.PatientName, c.PatientRef, c.Description,
		c.DoctorID, c.DoctorName, c.DoctorType,
		c.PharmacistID, c.PharmacistName, c.PharmacistType,
		c.DoctorCompleted, c.PharmacistCompleted,
		c.DoctorCompletedAt, c.PharmacistCompletedAt,
		c.Incomplete, c.IncompleteReason,
		c.TransferCount, c.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *caseRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	where := `WHERE TRUE`
	args := []interface{}{}
	switch f.Status {
	case StatusOpen:
		where += ` AND NOT incomplete AND NOT (doctor_completed AND pharmacist_completed)`
	case StatusPending:
		where += ` AND NOT incomplete AND NOT doctor_completed`
	case StatusDoctorCompleted:
		where += ` AND NOT incomplete AND doctor_completed AND NOT pharmacist_completed`
	case StatusCompleted:
		where += ` AND NOT incomplete AND doctor_completed AND pharmacist_completed`
	case StatusIncomplete:
		where += ` AND incomplete`
	case StatusDoctorIncomplete:
		where += ` AND incomplete AND NOT doctor_completed`
	case StatusPharmacistIncomplete:
		where += ` AND incomplete AND doctor_completed`
	}
	if f.AssigneeID != nil {
		args = append(args, *f.AssigneeID)
		where += fmt.Sprintf(` AND (doctor_id = $%d OR pharmacist_id = $%d)`, len(args), len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consult_case `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM consult_case %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		caseCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *caseRepoPG) ActiveCount(ctx context.Context, personID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consult_case WHERE `+activeLeg, personID).Scan(&n)
	return n, err
}

func (r *caseRepoPG) ActiveCounts(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT assignee, COUNT(*) FROM (
			SELECT doctor_id AS assignee FROM consult_case
			WHERE NOT incomplete AND doctor_id IS NOT NULL AND NOT doctor_completed
			UNION ALL
			SELECT pharmacist_id FROM consult_case
			WHERE NOT incomplete AND pharmacist_id IS NOT NULL AND NOT pharmacist_completed
		) legs GROUP BY assignee`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *caseRepoPG) ActiveCasesFor(ctx context.Context, personID uuid.UUID) ([]*Case, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM consult_case WHERE `+activeLeg+` ORDER BY created_at`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}
