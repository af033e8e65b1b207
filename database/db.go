package database

import (
	"context"
	"database/sql"

	"github.com/flowlane/flowlane/model"
)

// IDataSource is the repository surface for one tenant schema.
type IDataSource interface {
	inboxRepository
	taskSourceRepository
	Schema() string
}

type inboxRepository interface {
	IngestEvent(ctx context.Context, event *model.InboxEvent) (*model.InboxEvent, error)
	GetEvent(ctx context.Context, eventID string) (*model.InboxEvent, error)
	GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*model.InboxEvent, error)
	ListPendingEvents(ctx context.Context, limit int) ([]model.InboxEvent, error)
	ClaimEvent(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) (bool, error)
	UpdateEventStatus(ctx context.Context, eventID string, update model.StatusUpdate) (bool, error)
	RecordEventFailure(ctx context.Context, eventID string, reason string, maxAttempts int) (*model.EventStatus, error)
}

type taskSourceRepository interface {
	CreateTaskSource(ctx context.Context, source *model.TaskSource) (*model.TaskSource, error)
	GetTaskSource(ctx context.Context, taskSourceID string) (*model.TaskSource, error)
	ListDueTaskSources(ctx context.Context, limit int) ([]model.TaskSource, error)
	UpdateTaskSourceCursor(ctx context.Context, taskSourceID string, cursor map[string]interface{}) error
	RecordTaskSourceError(ctx context.Context, taskSourceID string, message string) error
	SoftDeleteTaskSource(ctx context.Context, taskSourceID string) error
}

// Datasource executes repository operations against one tenant's schema.
// Every operation leases a connection from the schema's pool, which
// re-asserts the search_path at checkout, runs its statements, and releases
// the connection on all exit paths.
type Datasource struct {
	pools  *PoolManager
	schema string
}

// NewDataSource returns a datasource scoped to the given schema. The schema
// is expected to have been validated by the registry before this point.
func NewDataSource(pools *PoolManager, schema string) IDataSource {
	return Datasource{pools: pools, schema: schema}
}

func (d Datasource) Schema() string {
	return d.schema
}

// withLease runs fn on a leased connection. Release is guaranteed whether fn
// succeeds or fails, and any transaction fn opened through the lease is
// rolled back if left unfinished.
func (d Datasource) withLease(ctx context.Context, fn func(lease *Lease) error) error {
	lease, err := d.pools.Acquire(ctx, d.schema)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease)
}

// withConn is withLease for single-statement operations that never open a
// transaction.
func (d Datasource) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	return d.withLease(ctx, func(lease *Lease) error {
		return fn(lease.Conn())
	})
}
