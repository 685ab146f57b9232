// Package sqlite is the reference implementation of the store.Store
// persistence contract over database/sql and github.com/ncruces/go-sqlite3,
// a pure-Go (no cgo, WASM-backed) SQLite driver. Schema changes are applied
// with golang-migrate/migrate/v4 from embedded .sql files.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fleetctl/coordinator/internal/store"
)

var _ store.Store = (*DB)(nil)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is an opened, migrated SQLite connection implementing store.Store.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending migrations. path may be ":memory:" for an ephemeral
// in-process database.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	conn.SetMaxOpenConns(1) // SQLite: serialize writers, avoid SQLITE_BUSY under our own goroutines

	if err := migrateUp(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

func migrateUp(conn *sql.DB) error {
	driver, err := sqlite3migrate.WithInstance(conn, &sqlite3migrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("constructing migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Workers returns the WorkerStore backed by db.
func (db *DB) Workers() store.WorkerStore { return &WorkerRepo{db: db.conn} }

// SpawnRequests returns the SpawnRequestStore backed by db.
func (db *DB) SpawnRequests() store.SpawnRequestStore { return &SpawnRequestRepo{db: db.conn} }

// Blackboard returns the BlackboardStore backed by db.
func (db *DB) Blackboard() store.BlackboardStore { return &BlackboardRepo{db: db.conn} }

// Mail returns the MailStore backed by db.
func (db *DB) Mail() store.MailStore { return &MailRepo{db: db.conn} }

// Handoffs returns the HandoffStore backed by db.
func (db *DB) Handoffs() store.HandoffStore { return &HandoffRepo{db: db.conn} }

// Checkpoints returns the CheckpointStore backed by db.
func (db *DB) Checkpoints() store.CheckpointStore { return &CheckpointRepo{db: db.conn} }

// WorkflowDefinitions returns the WorkflowDefinitionStore backed by db.
func (db *DB) WorkflowDefinitions() store.WorkflowDefinitionStore {
	return &WorkflowDefinitionRepo{db: db.conn}
}

// WorkflowExecutions returns the WorkflowExecutionStore backed by db.
func (db *DB) WorkflowExecutions() store.WorkflowExecutionStore {
	return &WorkflowExecutionRepo{db: db.conn}
}

// WorkflowSteps returns the WorkflowStepStore backed by db.
func (db *DB) WorkflowSteps() store.WorkflowStepStore { return &WorkflowStepRepo{db: db.conn} }

// WorkflowTriggers returns the WorkflowTriggerStore backed by db.
func (db *DB) WorkflowTriggers() store.WorkflowTriggerStore {
	return &WorkflowTriggerRepo{db: db.conn}
}

// Votes returns the VoteStore backed by db.
func (db *DB) Votes() store.VoteStore { return &VoteRepo{db: db.conn} }
