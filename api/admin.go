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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowlane/flowlane/internal/apierror"
)

// ListSchemas enumerates tenant schemas. Administrative surface; reserved
// system schemas are never included.
func (a Api) ListSchemas(c *gin.Context) {
	schemas, err := a.flowlane.Registry().ListTenantSchemas(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schemas": schemas})
}

// FindUserSchema locates the tenant schema containing the given user.
// Support tooling; scans every tenant schema.
func (a Api) FindUserSchema(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	schema, err := a.flowlane.Registry().FindUserSchema(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema": schema})
}
