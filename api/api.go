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
	"github.com/gin-gonic/gin"

	"github.com/flowlane/flowlane"
	"github.com/flowlane/flowlane/api/middleware"
	"github.com/flowlane/flowlane/config"
)

type Api struct {
	flowlane *flowlane.Flowlane
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/events", a.IngestEvent)
	router.GET("/events/pending", a.ListPendingEvents)
	router.GET("/events/:id", a.GetEvent)
	router.POST("/events/:id/claim", a.ClaimEvent)
	router.POST("/events/:id/processed", a.MarkEventProcessed)
	router.POST("/events/:id/status", a.UpdateEventStatus)
	router.POST("/events/drain", a.DrainEvents)

	router.POST("/task-sources", a.CreateTaskSource)
	router.GET("/task-sources/:id", a.GetTaskSource)
	router.DELETE("/task-sources/:id", a.DeleteTaskSource)

	router.GET("/schemas", a.ListSchemas)
	router.GET("/schemas/user/:id", a.FindUserSchema)

	return a.router
}

func NewAPI(f *flowlane.Flowlane) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	r.Use(middleware.TenantMiddleware(f.Resolver()))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{flowlane: f, router: r}
}
