package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/flowlane/flowlane/config"
	"github.com/flowlane/flowlane/internal/apierror"
)

// schemaNamePattern bounds what we accept as a schema identifier before it is
// ever placed in a DSN or a SET statement. The registry separately checks
// catalog existence; this guards identifier shape.
var schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// PoolManager maps schema identifiers to connection pools. Pools are created
// lazily on first access and live until DisposeAll at process shutdown; at
// most one pool ever exists per schema.
//
// Schema isolation is enforced twice: every connection a pool opens carries
// the schema's search_path in its DSN, and Acquire re-issues SET search_path
// on every checkout so a connection can never silently serve a lease with a
// stale scope.
type PoolManager struct {
	mu    sync.RWMutex
	pools map[string]*sql.DB
	conf  config.PoolConfig
	dsn   string

	// open is swapped out in tests.
	open func(dsn string) (*sql.DB, error)
	// validate confirms a schema exists before its pool is created. Set via
	// SetSchemaValidator once the registry is up.
	validate func(ctx context.Context, schema string) (bool, error)
}

func NewPoolManager(conf *config.Configuration) *PoolManager {
	return &PoolManager{
		pools: make(map[string]*sql.DB),
		conf:  conf.Pool,
		dsn:   conf.DataSource.Dns,
		open:  openPostgres,
	}
}

// MockPoolManager seeds a manager with pre-opened pools for testing purposes.
// Schemas outside the seeded set fail to connect instead of dialing out.
func MockPoolManager(conf config.PoolConfig, pools map[string]*sql.DB) *PoolManager {
	return &PoolManager{
		pools: pools,
		conf:  conf,
		open: func(dsn string) (*sql.DB, error) {
			return nil, errors.New("no database configured for this schema")
		},
	}
}

// SetSchemaValidator installs the catalog existence check run before a pool is
// created. The registry itself queries through the default schema's pool, so
// the default schema is exempt to keep pool creation and validation from
// depending on each other.
func (m *PoolManager) SetSchemaValidator(validate func(ctx context.Context, schema string) (bool, error)) {
	m.validate = validate
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// GetPool returns the pool for schema, creating it on first call. A schema
// the catalog does not know gets no pool: creation fails with NOT_FOUND and
// nothing is cached. Creation is double-checked under the manager lock so
// concurrent first access yields exactly one pool. A pool that fails to
// connect is not cached; the next call retries creation.
func (m *PoolManager) GetPool(ctx context.Context, schema string) (*sql.DB, error) {
	if !schemaNamePattern.MatchString(schema) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("invalid schema name %q", schema), nil)
	}

	m.mu.RLock()
	db, ok := m.pools[schema]
	m.mu.RUnlock()
	if ok {
		return db, nil
	}

	if m.validate != nil && schema != config.DefaultSchema {
		exists, err := m.validate(ctx, schema)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Schema %q does not exist", schema), nil)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.pools[schema]; ok {
		return db, nil
	}

	dsn, err := dsnForSchema(m.dsn, schema)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build schema DSN", err)
	}

	db, err = m.open(dsn)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUnavailable, fmt.Sprintf("Database unreachable while creating pool for schema %q", schema), err)
	}

	db.SetMaxOpenConns(m.conf.Size + m.conf.MaxOverflow)
	db.SetMaxIdleConns(m.conf.Size)
	db.SetConnMaxLifetime(m.conf.Recycle())

	m.pools[schema] = db
	logrus.Infof("created connection pool for schema %s", schema)
	return db, nil
}

// Acquire leases a connection scoped to schema. The checkout waits at most
// the configured pool timeout; at capacity it fails with POOL_EXHAUSTED
// rather than blocking indefinitely. The returned lease must be released.
func (m *PoolManager) Acquire(ctx context.Context, schema string) (*Lease, error) {
	db, err := m.GetPool(ctx, schema)
	if err != nil {
		return nil, err
	}

	checkoutCtx, cancel := context.WithTimeout(ctx, m.conf.Timeout())
	defer cancel()

	conn, err := db.Conn(checkoutCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apierror.NewAPIError(apierror.ErrPoolExhausted, fmt.Sprintf("Timed out waiting for a connection to schema %q", schema), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrUnavailable, fmt.Sprintf("Failed to check out a connection to schema %q", schema), err)
	}

	// Configure on lease. The DSN already pins the search_path for new
	// connections, but a pooled connection could have had its scope changed
	// by a prior lease.
	if _, err := conn.ExecContext(checkoutCtx, "SET search_path TO "+pq.QuoteIdentifier(schema)); err != nil {
		_ = conn.Close()
		return nil, apierror.NewAPIError(apierror.ErrUnavailable, fmt.Sprintf("Failed to set search path for schema %q", schema), err)
	}

	return &Lease{conn: conn, schema: schema}, nil
}

// DisposeAll closes every pool. Used only at process shutdown; safe to call
// more than once.
func (m *PoolManager) DisposeAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for schema, db := range m.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.pools, schema)
	}
	return firstErr
}

// dsnForSchema derives a schema-scoped DSN from the base DSN so that every
// connection the pool opens starts with the right search_path.
func dsnForSchema(base, schema string) (string, error) {
	searchPath := fmt.Sprintf("-c search_path=%s", schema)
	if strings.HasPrefix(base, "postgres://") || strings.HasPrefix(base, "postgresql://") {
		u, err := url.Parse(base)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("options", searchPath)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	// key/value DSN form
	return fmt.Sprintf("%s options='%s'", base, searchPath), nil
}

// Lease is a connection checked out from a schema's pool. It is exclusively
// owned by the caller between Acquire and Release; Release returns it to the
// pool on all exit paths and rolls back any transaction left open.
type Lease struct {
	conn     *sql.Conn
	schema   string
	tx       *sql.Tx
	mu       sync.Mutex
	released bool
}

func (l *Lease) Conn() *sql.Conn {
	return l.conn
}

func (l *Lease) Schema() string {
	return l.schema
}

// BeginTx opens a transaction on the leased connection. The lease tracks it
// so an unfinished transaction is rolled back at release.
func (l *Lease) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.tx = tx
	l.mu.Unlock()
	return tx, nil
}

// Done marks the lease's transaction as finished after a commit or rollback
// performed by the caller.
func (l *Lease) Done() {
	l.mu.Lock()
	l.tx = nil
	l.mu.Unlock()
}

// Release returns the connection to its pool. Idempotent.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	if l.tx != nil {
		if err := l.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logrus.Errorf("rollback on lease release for schema %s: %v", l.schema, err)
		}
		l.tx = nil
	}
	if err := l.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		logrus.Errorf("release connection for schema %s: %v", l.schema, err)
	}
}
