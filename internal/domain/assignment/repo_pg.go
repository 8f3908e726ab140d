package assignment

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

// ErrConfigNotFound is returned when no hierarchy config matches.
var ErrConfigNotFound = errors.New("hierarchy config not found")

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type hierarchyRepoPG struct{ pool *pgxpool.Pool }

func NewHierarchyRepoPG(pool *pgxpool.Pool) HierarchyRepository {
	return &hierarchyRepoPG{pool: pool}
}

func (r *hierarchyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cfgCols = `id, name, role, description, assign_to_any, active, created_at, updated_at`

func (r *hierarchyRepoPG) scanConfig(row pgx.Row) (*HierarchyConfig, error) {
	var cfg HierarchyConfig
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Role, &cfg.Description,
		&cfg.AssignToAny, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *hierarchyRepoPG) CreateConfig(ctx context.Context, cfg *HierarchyConfig) error {
	cfg.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hierarchy_config (id, name, role, description, assign_to_any, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		cfg.ID, cfg.Name, cfg.Role, cfg.Description, cfg.AssignToAny, cfg.Active)
	return err
}

func (r *hierarchyRepoPG) GetConfig(ctx context.Context, id uuid.UUID) (*HierarchyConfig, error) {
	cfg, err := r.scanConfig(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cfgCols+` FROM hierarchy_config WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	cfg.Members, err = r.ListMembers(ctx, cfg.ID)
	return cfg, err
}

func (r *hierarchyRepoPG) GetActiveConfigByRole(ctx context.Context, role string) (*HierarchyConfig, error) {
	cfg, err := r.scanConfig(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cfgCols+` FROM hierarchy_config WHERE role = $1 AND active = TRUE`, role))
	if err != nil {
		return nil, err
	}
	cfg.Members, err = r.ListMembers(ctx, cfg.ID)
	return cfg, err
}

func (r *hierarchyRepoPG) ListConfigs(ctx context.Context, role string, limit, offset int) ([]*HierarchyConfig, int, error) {
	where := ``
	args := []interface{}{}
	if role != "" {
		args = append(args, role)
		where = `WHERE role = $1`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hierarchy_config `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM hierarchy_config %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		cfgCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*HierarchyConfig
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, cfg)
	}
	return items, total, nil
}

func (r *hierarchyRepoPG) UpdateConfig(ctx context.Context, cfg *HierarchyConfig) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hierarchy_config SET name=$2, description=$3, assign_to_any=$4, updated_at=NOW()
		WHERE id = $1`,
		cfg.ID, cfg.Name, cfg.Description, cfg.AssignToAny)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *hierarchyRepoPG) ActivateConfig(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		cfg, err := r.GetConfig(ctx, id)
		if err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE hierarchy_config SET active = FALSE, updated_at = NOW() WHERE role = $1 AND active = TRUE`,
			cfg.Role); err != nil {
			return err
		}
		_, err = r.conn(ctx).Exec(ctx,
			`UPDATE hierarchy_config SET active = TRUE, updated_at = NOW() WHERE id = $1`, id)
		return err
	})
}

func (r *hierarchyRepoPG) DeleteConfig(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM hierarchy_config WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *hierarchyRepoPG) AddMember(ctx context.Context, m *HierarchyMember) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hierarchy_member (id, config_id, person_id, rank)
		VALUES ($1,$2,$3,$4)`,
		m.ID, m.ConfigID, m.PersonID, m.Rank)
	return err
}

func (r *hierarchyRepoPG) RemoveMember(ctx context.Context, configID, memberID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM hierarchy_member WHERE id = $1 AND config_id = $2`, memberID, configID)
	return err
}

func (r *hierarchyRepoPG) ListMembers(ctx context.Context, configID uuid.UUID) ([]HierarchyMember, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, config_id, person_id, rank, created_at
		FROM hierarchy_member WHERE config_id = $1 ORDER BY rank`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []HierarchyMember
	for rows.Next() {
		var m HierarchyMember
		if err := rows.Scan(&m.ID, &m.ConfigID, &m.PersonID, &m.Rank, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}
