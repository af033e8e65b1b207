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

/*
Package main provides the CLI commands for managing database migrations.
Each tenant schema carries its own copy of the tables, so migrations can be
applied to one schema or to every tenant schema at once.
*/

package main

import (
	"context"
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/flowlane/flowlane"
	"github.com/flowlane/flowlane/config"
	"github.com/flowlane/flowlane/database"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(b *flowlaneInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "start flowlane migration",
	}

	cmd.AddCommand(migrateUpCommands(b))
	cmd.AddCommand(migrateDownCommands())

	return cmd
}

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: flowlane.SQLFiles,
		Root:       "sql",
	}
}

// migrateUpCommands creates the command for applying migrations. With
// --all-tenants the migrations run against every tenant schema; otherwise
// they run against the schema named by --schema.
func migrateUpCommands(b *flowlaneInstance) *cobra.Command {
	var schema string
	var allTenants bool

	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrationSource()

			cnf, err := config.Fetch()
			if err != nil {
				log.Printf("Error fetching config: %v", err)
				return
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			schemas := []string{schema}
			if allTenants {
				schemas, err = b.flowlane.Registry().ListTenantSchemas(context.Background())
				if err != nil {
					log.Printf("Error listing tenant schemas: %v", err)
					return
				}
			}

			for _, s := range schemas {
				migrate.SetSchema(s)
				n, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
				if err != nil {
					log.Printf("Error migrating %s up: %v", s, err)
					return
				}
				fmt.Printf("Applied %d migrations to %s!\n", n, s)
			}
		},
	}

	cmd.Flags().StringVar(&schema, "schema", config.DefaultSchema, "schema to migrate")
	cmd.Flags().BoolVar(&allTenants, "all-tenants", false, "migrate every tenant schema")

	return cmd
}

// migrateDownCommands creates the command for rolling back migrations in one
// schema.
func migrateDownCommands() *cobra.Command {
	var schema string

	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrationSource()

			cnf, err := config.Fetch()
			if err != nil {
				log.Printf("Error fetching config: %v", err)
				return
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetSchema(schema)
			n, err := migrate.Exec(db, "postgres", migrations, migrate.Down)
			if err != nil {
				log.Printf("Error migrating %s down: %v", schema, err)
			} else {
				fmt.Printf("Rolled back %d migrations in %s!\n", n, schema)
			}
		},
	}

	cmd.Flags().StringVar(&schema, "schema", config.DefaultSchema, "schema to roll back")

	return cmd
}
