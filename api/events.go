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
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/flowlane/flowlane/api/model"
	"github.com/flowlane/flowlane/api/middleware"
	"github.com/flowlane/flowlane/internal/apierror"
)

func (a Api) IngestEvent(c *gin.Context) {
	var newEvent model2.IngestEvent
	if err := c.ShouldBindJSON(&newEvent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newEvent.ValidateIngestEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	schema := middleware.SchemaFromContext(c)
	event, created, err := a.flowlane.IngestInboxEvent(c.Request.Context(), schema, newEvent.ToInboxEvent())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	// A duplicate returns the stored event, not a second copy.
	if !created {
		c.JSON(http.StatusOK, event)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (a Api) GetEvent(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	schema := middleware.SchemaFromContext(c)
	event, err := a.flowlane.GetInboxEvent(c.Request.Context(), schema, id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (a Api) ListPendingEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	schema := middleware.SchemaFromContext(c)
	events, err := a.flowlane.ListPendingInboxEvents(c.Request.Context(), schema, limit)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (a Api) ClaimEvent(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	schema := middleware.SchemaFromContext(c)
	claimed, err := a.flowlane.ClaimInboxEvent(c.Request.Context(), schema, id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !claimed {
		c.JSON(http.StatusConflict, gin.H{"error": "event is not pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": true})
}

func (a Api) MarkEventProcessed(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	schema := middleware.SchemaFromContext(c)
	event, err := a.flowlane.MarkInboxEventProcessed(c.Request.Context(), schema, id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (a Api) UpdateEventStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var update model2.UpdateEventStatus
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := update.ValidateUpdateEventStatus(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	schema := middleware.SchemaFromContext(c)
	event, err := a.flowlane.UpdateInboxEventStatus(c.Request.Context(), schema, id, update.ToStatusUpdate())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (a Api) DrainEvents(c *gin.Context) {
	schema := middleware.SchemaFromContext(c)
	enqueued, err := a.flowlane.DrainInboxEvents(c.Request.Context(), schema)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enqueued": enqueued})
}
