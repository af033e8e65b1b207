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

	model2 "github.com/flowlane/flowlane/api/model"
	"github.com/flowlane/flowlane/api/middleware"
	"github.com/flowlane/flowlane/internal/apierror"
)

func (a Api) CreateTaskSource(c *gin.Context) {
	var newSource model2.CreateTaskSource
	if err := c.ShouldBindJSON(&newSource); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newSource.ValidateCreateTaskSource(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	schema := middleware.SchemaFromContext(c)
	source, err := a.flowlane.CreateTaskSource(c.Request.Context(), schema, newSource.ToTaskSource())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, source)
}

func (a Api) GetTaskSource(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	schema := middleware.SchemaFromContext(c)
	source, err := a.flowlane.GetTaskSource(c.Request.Context(), schema, id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, source)
}

func (a Api) DeleteTaskSource(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	schema := middleware.SchemaFromContext(c)
	if err := a.flowlane.DeleteTaskSource(c.Request.Context(), schema, id); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
