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
	"embed"

	"github.com/redis/go-redis/v9"

	"github.com/flowlane/flowlane/cache"
	"github.com/flowlane/flowlane/config"
	"github.com/flowlane/flowlane/database"
	redis_db "github.com/flowlane/flowlane/internal/redis-db"
)

// Flowlane is the main application struct. It owns the per-schema pool
// manager and hands out schema-scoped datasources to the services built on
// top of it.
type Flowlane struct {
	queue    *Queue
	redis    redis.UniversalClient
	pools    *database.PoolManager
	registry *database.SchemaRegistry
	resolver *SchemaResolver
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewFlowlane initializes a new instance of Flowlane on top of the provided
// pool manager. It fetches the configuration and wires up the Redis client,
// schema registry, resolver and queue.
func NewFlowlane(pools *database.PoolManager) (*Flowlane, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	schemaCache, err := cache.NewCache(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}

	// Catalog lookups always run against the default schema's pool.
	defaultPool, err := pools.GetPool(context.Background(), config.DefaultSchema)
	if err != nil {
		return nil, err
	}
	registry := database.NewSchemaRegistry(defaultPool, schemaCache)
	// From here on, a pool is only ever created for a schema the catalog
	// knows. Dropped or fabricated schema names fail at acquire instead of
	// routing to a namespace that does not exist.
	pools.SetSchemaValidator(registry.Exists)

	newFlowlane := &Flowlane{
		pools:    pools,
		registry: registry,
		resolver: NewSchemaResolver(registry),
		queue:    NewQueue(configuration),
		redis:    redisClient.Client(),
	}
	return newFlowlane, nil
}

// MockFlowlane wires an instance from pre-built parts without connecting to
// Redis. Testing only.
func MockFlowlane(pools *database.PoolManager, registry *database.SchemaRegistry, queue *Queue) *Flowlane {
	return &Flowlane{
		pools:    pools,
		registry: registry,
		resolver: NewSchemaResolver(registry),
		queue:    queue,
	}
}

// Tenant returns a datasource scoped to the given schema. The schema must
// already have been validated, normally by the resolver.
func (f *Flowlane) Tenant(schema string) database.IDataSource {
	return database.NewDataSource(f.pools, schema)
}

// Registry exposes the schema registry for administrative surfaces.
func (f *Flowlane) Registry() *database.SchemaRegistry {
	return f.registry
}

// Resolver exposes the token-to-schema resolver for the API middleware.
func (f *Flowlane) Resolver() *SchemaResolver {
	return f.resolver
}
