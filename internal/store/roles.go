package store

import (
	"context"
	"database/sql"
	"fmt"

	"notegate/api/internal/rbac"
)

// ListRoleSpecs reads the seeded roles with their permission names.
func (q *Queries) ListRoleSpecs(ctx context.Context) ([]rbac.RoleSpec, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, p.name
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		ORDER BY r.id, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var specs []rbac.RoleSpec
	index := map[string]int{}
	for rows.Next() {
		var (
			id, name, description string
			permission            sql.NullString
		)
		if err := rows.Scan(&id, &name, &description, &permission); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		pos, ok := index[id]
		if !ok {
			specs = append(specs, rbac.RoleSpec{ID: id, Name: name, Description: description})
			pos = len(specs) - 1
			index[id] = pos
		}
		if permission.Valid {
			specs[pos].Permissions = append(specs[pos].Permissions, permission.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return specs, nil
}
