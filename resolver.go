/*
Copyright 2024 Flowlane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flowlane

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flowlane/flowlane/config"
	"github.com/flowlane/flowlane/database"
	"github.com/flowlane/flowlane/internal/apierror"
)

// TokenClaims are the claims Flowlane reads from an access token. The org id
// doubles as the tenant schema name.
type TokenClaims struct {
	OrgID    string `json:"org_id"`
	UserRole string `json:"user_role"`
	jwt.RegisteredClaims
}

// SchemaResolver maps an access token to the schema its requests should run
// against. Every resolved tenant schema is checked against the registry, so a
// forged or stale org id can never route to an arbitrary namespace.
type SchemaResolver struct {
	registry *database.SchemaRegistry
}

func NewSchemaResolver(registry *database.SchemaRegistry) *SchemaResolver {
	return &SchemaResolver{registry: registry}
}

// Resolve returns the schema for the given bearer token.
//
// An empty token resolves to the default schema. Tokens carrying the
// privileged role also resolve to the default schema regardless of their org
// id; cross-tenant identities must never be pinned to one tenant's namespace.
func (r *SchemaResolver) Resolve(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return config.DefaultSchema, nil
	}

	conf, err := config.Fetch()
	if err != nil {
		return "", err
	}

	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(conf.Auth.JwtSecret), nil
	})
	if err != nil || !parsed.Valid {
		return "", apierror.NewAPIError(apierror.ErrUnauthorized, "Invalid or expired token", err)
	}

	if claims.UserRole != "" && claims.UserRole == conf.Auth.PrivilegedRole {
		return config.DefaultSchema, nil
	}
	if claims.OrgID == "" {
		return config.DefaultSchema, nil
	}

	schema := strings.ToLower(claims.OrgID)
	exists, err := r.registry.Exists(ctx, schema)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Schema %q does not exist", schema), nil)
	}
	return schema, nil
}
