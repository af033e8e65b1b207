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
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/flowlane/flowlane/internal/apierror"
)

// SchemaKey is the gin context key the resolved tenant schema is stored
// under.
const SchemaKey = "flowlane_schema"

// SchemaResolver is the part of the resolver the middleware needs.
type SchemaResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// TenantMiddleware resolves the request's Authorization header to a tenant
// schema and stores it on the context. Handlers read it with SchemaFromContext
// and never see the token itself.
func TenantMiddleware(resolver SchemaResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		schema, err := resolver.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Set(SchemaKey, schema)
		c.Next()
	}
}

// SchemaFromContext returns the schema the tenant middleware resolved.
func SchemaFromContext(c *gin.Context) string {
	return c.GetString(SchemaKey)
}
