package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/flowlane/flowlane/cache"
	"github.com/flowlane/flowlane/internal/apierror"
)

// ReservedSchemas are system namespaces that are never routable as tenant
// schemas, regardless of catalog presence.
var ReservedSchemas = map[string]struct{}{
	"information_schema": {},
	"pg_catalog":         {},
	"pg_toast":           {},
	"pg_temp_1":          {},
	"pg_toast_temp_1":    {},
}

const schemaCacheTTL = 30 * time.Second

// SchemaRegistry answers whether a schema exists and is a legitimate tenant
// schema. Catalog lookups run against the default schema's pool and are
// cached briefly since Exists sits on the request hot path.
type SchemaRegistry struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewSchemaRegistry(conn *sql.DB, c cache.Cache) *SchemaRegistry {
	return &SchemaRegistry{Conn: conn, Cache: c}
}

// Exists reports whether name is a known, non-reserved schema.
func (r *SchemaRegistry) Exists(ctx context.Context, name string) (bool, error) {
	if _, reserved := ReservedSchemas[name]; reserved {
		return false, nil
	}
	if !schemaNamePattern.MatchString(name) {
		return false, nil
	}

	cacheKey := "schema:exists:" + name
	if r.Cache != nil {
		var cached bool
		if err := r.Cache.Get(ctx, cacheKey, &cached); err == nil && cached {
			return true, nil
		}
	}

	var one int
	err := r.Conn.QueryRowContext(ctx, `
		SELECT 1 FROM information_schema.schemata WHERE schema_name = $1
	`, name).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrUnavailable, "Failed to query schema catalog", err)
	}

	if r.Cache != nil {
		if err := r.Cache.Set(ctx, cacheKey, true, schemaCacheTTL); err != nil {
			logrus.Warnf("failed to cache schema existence for %s: %v", name, err)
		}
	}
	return true, nil
}

// ListTenantSchemas returns every catalog schema minus the reserved set.
// Administrative enumeration only; not on the request hot path.
func (r *SchemaRegistry) ListTenantSchemas(ctx context.Context) ([]string, error) {
	rows, err := r.Conn.QueryContext(ctx, `
		SELECT schema_name FROM information_schema.schemata ORDER BY schema_name
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUnavailable, "Failed to list schemas", err)
	}
	defer rows.Close()

	schemas := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan schema name", err)
		}
		if _, reserved := ReservedSchemas[name]; reserved {
			continue
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over schemas", err)
	}
	return schemas, nil
}

// FindUserSchema locates the tenant schema whose users table contains the
// given identifier. The identifier may be a user uuid, an email address, or a
// provider user id; the matching column is picked by shape. Administrative
// use only.
func (r *SchemaRegistry) FindUserSchema(ctx context.Context, userID string) (string, error) {
	schemas, err := r.ListTenantSchemas(ctx)
	if err != nil {
		return "", err
	}

	column := "user_id"
	if strings.Contains(userID, "@") {
		column = "email"
	} else if isUUID(userID) {
		column = "id"
	}

	for _, schema := range schemas {
		query := fmt.Sprintf(`SELECT 1 FROM %s.users WHERE %s = $1 LIMIT 1`, pq.QuoteIdentifier(schema), column)
		var one int
		err := r.Conn.QueryRowContext(ctx, query, userID).Scan(&one)
		if err == nil {
			return schema, nil
		}
		if err != sql.ErrNoRows {
			// A schema without a users table is skipped, not fatal.
			logrus.Warnf("checking user in schema %s: %v", schema, err)
		}
	}
	return "", apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No tenant schema found for user %q", userID), nil)
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}
