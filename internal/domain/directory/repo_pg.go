package directory

import (
	"context"
	"encoding/json"
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

type personRepoPG struct{ pool *pgxpool.Pool }

func NewPersonRepoPG(pool *pgxpool.Pool) PersonRepository {
	return &personRepoPG{pool: pool}
}

func (r *personRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const personCols = `id, name, email, phone, role, specialty,
	availability_status, case_count, availability_history, active,
	created_at, updated_at`

func (r *personRepoPG) scanPerson(row pgx.Row) (*Person, error) {
	var p Person
	var history []byte
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Role, &p.Specialty,
		&p.AvailabilityStatus, &p.CaseCount, &history, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &p.AvailabilityHistory); err != nil {
			return nil, fmt.Errorf("decode availability history: %w", err)
		}
	}
	return &p, nil
}

func (r *personRepoPG) Create(ctx context.Context, p *Person) error {
	p.ID = uuid.New()
	if p.AvailabilityStatus == "" {
		p.AvailabilityStatus = StatusAvailable
	}
	history, err := json.Marshal(p.AvailabilityHistory)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO person (id, name, email, phone, role, specialty,
			availability_status, case_count, availability_history, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE)`,
		p.ID, p.Name, p.Email, p.Phone, p.Role, p.Specialty,
		p.AvailabilityStatus, p.CaseCount, history)
	return err
}

func (r *personRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Person, error) {
	return r.scanPerson(r.conn(ctx).QueryRow(ctx,
		`SELECT `+personCols+` FROM person WHERE id = $1`, id))
}

func (r *personRepoPG) GetByEmail(ctx context.Context, email string) (*Person, error) {
	return r.scanPerson(r.conn(ctx).QueryRow(ctx,
		`SELECT `+personCols+` FROM person WHERE email = $1`, email))
}

func (r *personRepoPG) Update(ctx context.Context, p *Person) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE person SET name=$2, email=$3, phone=$4, role=$5, specialty=$6,
			updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Email, p.Phone, p.Role, p.Specialty)
	return err
}

func (r *personRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE person SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *personRepoPG) List(ctx context.Context, role, status string, limit, offset int) ([]*Person, int, error) {
	where := `WHERE active = TRUE`
	args := []interface{}{}
	if role != "" {
		args = append(args, role)
		where += fmt.Sprintf(` AND role = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(` AND availability_status = $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM person `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM person %s ORDER BY name LIMIT $%d OFFSET $%d`,
		personCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Person
	for rows.Next() {
		p, err := r.scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

func (r *personRepoPG) ListByRole(ctx context.Context, role string) ([]*Person, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+personCols+` FROM person WHERE role = $1 AND active = TRUE ORDER BY name`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Person
	for rows.Next() {
		p, err := r.scanPerson(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

func (r *personRepoPG) UpdateAvailability(ctx context.Context, id uuid.UUID, status string, history []AvailabilityChange) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE person SET availability_status = $2, availability_history = $3,
			updated_at = NOW()
		WHERE id = $1`, id, status, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *personRepoPG) SetCaseCount(ctx context.Context, id uuid.UUID, count int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE person SET case_count = $2, updated_at = NOW() WHERE id = $1`, id, count)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
