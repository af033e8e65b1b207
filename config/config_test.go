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

package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "some-dns",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}

	// Pool settings fall back to the documented defaults.
	if cnf.Pool.Size != 2 {
		t.Errorf("Expected default pool size 2, got %d", cnf.Pool.Size)
	}
	if cnf.Pool.MaxOverflow != 50 {
		t.Errorf("Expected default max overflow 50, got %d", cnf.Pool.MaxOverflow)
	}
	if cnf.Pool.Timeout() != 30*time.Second {
		t.Errorf("Expected default pool timeout 30s, got %v", cnf.Pool.Timeout())
	}
	if cnf.Pool.Recycle() != time.Hour {
		t.Errorf("Expected default recycle 1h, got %v", cnf.Pool.Recycle())
	}

	if cnf.Inbox.MaxAttempts != 5 {
		t.Errorf("Expected default max attempts 5, got %d", cnf.Inbox.MaxAttempts)
	}
	if cnf.Auth.PrivilegedRole != "ROOT" {
		t.Errorf("Expected default privileged role ROOT, got %s", cnf.Auth.PrivilegedRole)
	}
	if cnf.Queue.InboxQueue != "inbox_events" {
		t.Errorf("Expected default inbox queue name, got %s", cnf.Queue.InboxQueue)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "flowlane.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Redis: RedisConfig{
			Dns: "temp-redis",
		},
		Pool: PoolConfig{
			Size: 4,
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("FLOWLANE_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("FLOWLANE_PROJECT_NAME")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
	// File value survives, unset fields get defaults.
	if loadedConfig.Pool.Size != 4 {
		t.Errorf("Expected Pool.Size to be 4, got %d", loadedConfig.Pool.Size)
	}
	if loadedConfig.Pool.MaxOverflow != 50 {
		t.Errorf("Expected Pool.MaxOverflow default 50, got %d", loadedConfig.Pool.MaxOverflow)
	}
}
