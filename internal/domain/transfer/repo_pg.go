package transfer

import (
	"context"

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

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository {
	return &eventRepoPG{pool: pool}
}

func (r *eventRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const evCols = `id, case_id, role, from_person_id, to_person_id, to_person_name, bulk, reason, initiated_by, created_at`

func (r *eventRepoPG) scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(&ev.ID, &ev.CaseID, &ev.Role, &ev.FromPersonID,
		&ev.ToPersonID, &ev.ToPersonName, &ev.Bulk, &ev.Reason,
		&ev.InitiatedBy, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *eventRepoPG) Record(ctx context.Context, ev *Event) error {
	ev.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO transfer_event (id, case_id, role, from_person_id, to_person_id,
			to_person_name, bulk, reason, initiated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ID, ev.CaseID, ev.Role, ev.FromPersonID, ev.ToPersonID,
		ev.ToPersonName, ev.Bulk, ev.Reason, ev.InitiatedBy)
	return err
}

func (r *eventRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+evCols+` FROM transfer_event WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		ev, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ev)
	}
	return items, nil
}

func (r *eventRepoPG) ListByPerson(ctx context.Context, personID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM transfer_event WHERE from_person_id = $1 OR to_person_id = $1`,
		personID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+evCols+` FROM transfer_event
		WHERE from_person_id = $1 OR to_person_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, personID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		ev, err := r.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ev)
	}
	return items, total, nil
}

func (r *eventRepoPG) CountByCase(ctx context.Context, caseID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM transfer_event WHERE case_id = $1`, caseID).Scan(&n)
	return n, err
}
