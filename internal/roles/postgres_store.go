package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/valinor-ai/kycgate/internal/platform/database"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

const roleColumns = `name, display_name, description, hierarchy, permissions, color, icon,
	is_active, user_count, version, created_at, updated_at`

// PostgresStore persists roles in the roles table. Writes lock the row with
// SELECT ... FOR UPDATE for the length of the transaction.
type PostgresStore struct {
	pool *database.Pool
}

func NewPostgresStore(pool *database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanRole(row pgx.Row) (rbac.Role, error) {
	var r rbac.Role
	var permBytes []byte
	err := row.Scan(&r.Name, &r.DisplayName, &r.Description, &r.Hierarchy, &permBytes,
		&r.Color, &r.Icon, &r.IsActive, &r.UserCount, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return rbac.Role{}, err
	}
	if err := json.Unmarshal(permBytes, &r.Permissions); err != nil {
		return rbac.Role{}, fmt.Errorf("unmarshaling permissions: %w", err)
	}
	return r, nil
}

func getRole(ctx context.Context, q database.Querier, name string, forUpdate bool) (rbac.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanRole(q.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Role{}, rbac.NotFound(name)
		}
		return rbac.Role{}, fmt.Errorf("getting role: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (rbac.Role, error) {
	return getRole(ctx, s.pool, name, false)
}

func (s *PostgresStore) List(ctx context.Context, includeInactive bool) ([]rbac.Role, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles
		 WHERE is_active OR $1
		 ORDER BY hierarchy DESC, name`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []rbac.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *PostgresStore) HierarchyOf(ctx context.Context, name string) (int, error) {
	var h int
	err := s.pool.QueryRow(ctx, `SELECT hierarchy FROM roles WHERE name = $1`, name).Scan(&h)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, rbac.NotFound(name)
		}
		return 0, fmt.Errorf("getting role hierarchy: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) Insert(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	permJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return rbac.Role{}, fmt.Errorf("marshaling permissions: %w", err)
	}

	created, err := scanRole(s.pool.QueryRow(ctx,
		`INSERT INTO roles (name, display_name, description, hierarchy, permissions, color, icon,
		   is_active, user_count, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 1, $9, $9)
		 RETURNING `+roleColumns,
		role.Name, role.DisplayName, role.Description, role.Hierarchy, permJSON,
		role.Color, role.Icon, role.IsActive, role.CreatedAt,
	))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return rbac.Role{}, duplicateName(role.Name)
		}
		return rbac.Role{}, fmt.Errorf("creating role: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Update(ctx context.Context, name string, fn func(*rbac.Role) error) (rbac.Role, error) {
	var updated rbac.Role
	err := database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		current, err := getRole(ctx, q, name, true)
		if err != nil {
			return err
		}
		if err := fn(&current); err != nil {
			return err
		}
		current.Name = name
		updated, err = writeRole(ctx, q, current)
		return err
	})
	if err != nil {
		return rbac.Role{}, err
	}
	return updated, nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string, check func(rbac.Role) error) error {
	return database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		current, err := getRole(ctx, q, name, true)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}
		if _, err := q.Exec(ctx, `DELETE FROM roles WHERE name = $1`, name); err != nil {
			return fmt.Errorf("deleting role: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Save(ctx context.Context, role rbac.Role, expectedVersion int64) (rbac.Role, error) {
	var saved rbac.Role
	err := database.WithTx(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		current, err := getRole(ctx, q, role.Name, true)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return versionConflict(role.Name, expectedVersion, current.Version)
		}
		saved, err = writeRole(ctx, q, role)
		return err
	})
	if err != nil {
		return rbac.Role{}, err
	}
	return saved, nil
}

// writeRole stores the mutable columns and bumps the version. Name,
// hierarchy and created_at are never rewritten.
func writeRole(ctx context.Context, q database.Querier, r rbac.Role) (rbac.Role, error) {
	permJSON, err := json.Marshal(r.Permissions)
	if err != nil {
		return rbac.Role{}, fmt.Errorf("marshaling permissions: %w", err)
	}
	updated, err := scanRole(q.QueryRow(ctx,
		`UPDATE roles
		 SET display_name = $2, description = $3, permissions = $4, color = $5, icon = $6,
		     is_active = $7, version = version + 1, updated_at = $8
		 WHERE name = $1
		 RETURNING `+roleColumns,
		r.Name, r.DisplayName, r.Description, permJSON, r.Color, r.Icon, r.IsActive, r.UpdatedAt,
	))
	if err != nil {
		return rbac.Role{}, fmt.Errorf("updating role: %w", err)
	}
	return updated, nil
}
