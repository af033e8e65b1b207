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
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	// DefaultSchema is the schema unauthenticated and privileged requests
	// resolve to.
	DefaultSchema = "public"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"FLOWLANE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"FLOWLANE_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"FLOWLANE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"FLOWLANE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"FLOWLANE_REDIS_DNS"`
}

type AuthConfig struct {
	JwtSecret string `json:"jwt_secret" envconfig:"FLOWLANE_AUTH_JWT_SECRET"`
	// PrivilegedRole identifies cross-tenant identities. Tokens carrying this
	// role always resolve to the default schema, never a tenant schema.
	PrivilegedRole string `json:"privileged_role" envconfig:"FLOWLANE_AUTH_PRIVILEGED_ROLE"`
}

// PoolConfig holds the settings applied identically to every per-schema
// connection pool. They are read once at startup and never change afterwards.
type PoolConfig struct {
	Size        int `json:"size" envconfig:"FLOWLANE_DB_POOL_SIZE"`
	MaxOverflow int `json:"max_overflow" envconfig:"FLOWLANE_DB_MAX_OVERFLOW"`
	TimeoutSec  int `json:"timeout_sec" envconfig:"FLOWLANE_DB_POOL_TIMEOUT"`
	RecycleSec  int `json:"recycle_sec" envconfig:"FLOWLANE_DB_POOL_RECYCLE"`
}

// Timeout is the maximum time a caller waits for a connection checkout.
func (p PoolConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// Recycle is the maximum lifetime of a pooled connection.
func (p PoolConfig) Recycle() time.Duration {
	return time.Duration(p.RecycleSec) * time.Second
}

type InboxConfig struct {
	MaxAttempts int `json:"max_attempts" envconfig:"FLOWLANE_INBOX_MAX_ATTEMPTS"`
	BatchSize   int `json:"batch_size" envconfig:"FLOWLANE_INBOX_BATCH_SIZE"`
}

type QueueConfig struct {
	InboxQueue string `json:"inbox_queue" envconfig:"FLOWLANE_QUEUE_INBOX"`
	PollQueue  string `json:"poll_queue" envconfig:"FLOWLANE_QUEUE_POLL"`
}

type PollerConfig struct {
	IntervalSec int `json:"interval_sec" envconfig:"FLOWLANE_POLLER_INTERVAL"`
}

func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSec) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"FLOWLANE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"FLOWLANE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"FLOWLANE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"FLOWLANE_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Auth         AuthConfig       `json:"auth"`
	Pool         PoolConfig       `json:"pool"`
	Inbox        InboxConfig      `json:"inbox"`
	Queue        QueueConfig      `json:"queue"`
	Poller       PollerConfig     `json:"poller"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Notification Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("flowlane", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called flowlane.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Flowlane Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Pool defaults match the sizing the schema-per-tenant layout was tuned
	// for: a small resident pool per schema with generous overflow.
	if cnf.Pool.Size <= 0 {
		cnf.Pool.Size = 2
	}
	if cnf.Pool.MaxOverflow <= 0 {
		cnf.Pool.MaxOverflow = 50
	}
	if cnf.Pool.TimeoutSec <= 0 {
		cnf.Pool.TimeoutSec = 30
	}
	if cnf.Pool.RecycleSec <= 0 {
		cnf.Pool.RecycleSec = 3600
	}

	if cnf.Inbox.MaxAttempts <= 0 {
		cnf.Inbox.MaxAttempts = 5
	}
	if cnf.Inbox.BatchSize <= 0 {
		cnf.Inbox.BatchSize = 100
	}

	if cnf.Queue.InboxQueue == "" {
		cnf.Queue.InboxQueue = "inbox_events"
	}
	if cnf.Queue.PollQueue == "" {
		cnf.Queue.PollQueue = "task_source_polls"
	}

	if cnf.Poller.IntervalSec <= 0 {
		cnf.Poller.IntervalSec = 60
	}

	if cnf.Auth.PrivilegedRole == "" {
		cnf.Auth.PrivilegedRole = "ROOT"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
