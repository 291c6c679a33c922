package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is wrapped by every lookup that matches no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own empty database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and applies connection pragmas.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", s.cfg.Path)
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// UpsertComputer inserts a computer or updates an existing one with the same name.
func (s *SQLiteStore) UpsertComputer(ctx context.Context, computer *Computer) error {
	query := `
		INSERT INTO computers (name, hostname, transport, work_dir, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			hostname = excluded.hostname,
			transport = excluded.transport,
			work_dir = excluded.work_dir,
			description = excluded.description
	`

	_, err := s.db.ExecContext(ctx, query,
		computer.Name,
		computer.Hostname,
		computer.Transport,
		computer.WorkDir,
		computer.Description,
		computer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert computer: %w", err)
	}

	return nil
}

// GetComputer retrieves a computer by name
func (s *SQLiteStore) GetComputer(ctx context.Context, name string) (*Computer, error) {
	query := `
		SELECT name, hostname, transport, work_dir, description, created_at
		FROM computers
		WHERE name = ?
	`

	c := &Computer{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&c.Name,
		&c.Hostname,
		&c.Transport,
		&c.WorkDir,
		&c.Description,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("computer %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get computer: %w", err)
	}

	return c, nil
}

// ListComputers lists all computers ordered by name
func (s *SQLiteStore) ListComputers(ctx context.Context) ([]*Computer, error) {
	query := `
		SELECT name, hostname, transport, work_dir, description, created_at
		FROM computers
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list computers: %w", err)
	}
	defer rows.Close()

	computers := []*Computer{}
	for rows.Next() {
		c := &Computer{}
		if err := rows.Scan(&c.Name, &c.Hostname, &c.Transport, &c.WorkDir, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan computer: %w", err)
		}
		computers = append(computers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating computers: %w", err)
	}

	return computers, nil
}

// CreateCode creates a new code record
func (s *SQLiteStore) CreateCode(ctx context.Context, code *Code) error {
	query := `
		INSERT INTO codes (id, label, computer, exec_target, input_plugin, builder, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		code.ID,
		code.Label,
		code.Computer,
		code.ExecTarget,
		code.InputPlugin,
		code.Builder,
		code.Metadata,
		code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create code: %w", err)
	}

	return nil
}

const codeColumns = `id, label, computer, exec_target, input_plugin, builder, metadata, created_at`

func scanCode(row interface{ Scan(...any) error }) (*Code, error) {
	code := &Code{}
	err := row.Scan(
		&code.ID,
		&code.Label,
		&code.Computer,
		&code.ExecTarget,
		&code.InputPlugin,
		&code.Builder,
		&code.Metadata,
		&code.CreatedAt,
	)
	return code, err
}

// GetCode retrieves a code by ID
func (s *SQLiteStore) GetCode(ctx context.Context, id string) (*Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes WHERE id = ?`

	code, err := scanCode(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("code %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get code: %w", err)
	}

	return code, nil
}

// GetCodeByLabel retrieves the most recently registered code with the given
// label on the given computer.
func (s *SQLiteStore) GetCodeByLabel(ctx context.Context, label, computer string) (*Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes
		WHERE label = ? AND computer = ?
		ORDER BY created_at DESC
		LIMIT 1`

	code, err := scanCode(s.db.QueryRowContext(ctx, query, label, computer))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("code %s@%s: %w", label, computer, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get code: %w", err)
	}

	return code, nil
}

// ListCodes lists codes with pagination, newest first
func (s *SQLiteStore) ListCodes(ctx context.Context, limit, offset int) ([]*Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	defer rows.Close()

	codes := []*Code{}
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating codes: %w", err)
	}

	return codes, nil
}

// CreateNode creates a new node record
func (s *SQLiteStore) CreateNode(ctx context.Context, node *Node) error {
	query := `
		INSERT INTO nodes (id, entrypoint, state, inputs, outputs, exit_status, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		node.ID,
		node.Entrypoint,
		node.State,
		node.Inputs,
		node.Outputs,
		node.ExitStatus,
		node.Error,
		node.CreatedAt,
		node.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	return nil
}

const nodeColumns = `id, entrypoint, state, inputs, outputs, exit_status, error, created_at, completed_at`

func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	node := &Node{}
	err := row.Scan(
		&node.ID,
		&node.Entrypoint,
		&node.State,
		&node.Inputs,
		&node.Outputs,
		&node.ExitStatus,
		&node.Error,
		&node.CreatedAt,
		&node.CompletedAt,
	)
	return node, err
}

// GetNode retrieves a node by ID
func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = ?`

	node, err := scanNode(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return node, nil
}

// CompleteNode moves a node to a terminal state and stores its results.
func (s *SQLiteStore) CompleteNode(ctx context.Context, id string, state NodeState, outputs *string, exitStatus *int, errMsg *string) error {
	query := `
		UPDATE nodes
		SET state = ?, outputs = ?, exit_status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, state, outputs, exitStatus, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete node: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListNodes lists nodes with pagination, newest first
func (s *SQLiteStore) ListNodes(ctx context.Context, limit, offset int) ([]*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

// CreateTestRun creates a new test run record
func (s *SQLiteStore) CreateTestRun(ctx context.Context, run *TestRun) error {
	query := `
		INSERT INTO test_runs (id, suite, halted, resources, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	resources := run.Resources
	if resources == "" {
		resources = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Suite,
		run.Halted,
		resources,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create test run: %w", err)
	}

	return nil
}

// CompleteTestRun stamps a run as completed with its provisioning outcome.
func (s *SQLiteStore) CompleteTestRun(ctx context.Context, id string, halted bool, resources string) error {
	query := `
		UPDATE test_runs
		SET halted = ?, resources = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, halted, resources, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete test run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("test run %s: %w", id, ErrNotFound)
	}

	return nil
}

const testRunColumns = `id, suite, halted, resources, started_at, completed_at`

func scanTestRun(row interface{ Scan(...any) error }) (*TestRun, error) {
	run := &TestRun{}
	err := row.Scan(
		&run.ID,
		&run.Suite,
		&run.Halted,
		&run.Resources,
		&run.StartedAt,
		&run.CompletedAt,
	)
	return run, err
}

// GetTestRun retrieves a test run by ID
func (s *SQLiteStore) GetTestRun(ctx context.Context, id string) (*TestRun, error) {
	query := `SELECT ` + testRunColumns + ` FROM test_runs WHERE id = ?`

	run, err := scanTestRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("test run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test run: %w", err)
	}

	return run, nil
}

// ListTestRuns lists runs newest first, optionally filtered by suite.
func (s *SQLiteStore) ListTestRuns(ctx context.Context, suite *string, limit, offset int) ([]*TestRun, error) {
	var conditions []string
	var args []interface{}

	if suite != nil {
		conditions = append(conditions, "suite = ?")
		args = append(args, *suite)
	}

	query := `SELECT ` + testRunColumns + ` FROM test_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list test runs: %w", err)
	}
	defer rows.Close()

	runs := []*TestRun{}
	for rows.Next() {
		run, err := scanTestRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test runs: %w", err)
	}

	return runs, nil
}

// AddTestResults stores the results of a run in a single transaction.
func (s *SQLiteStore) AddTestResults(ctx context.Context, results []*TestResult) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO test_results (
			run_id, test, status, exception_class, exception_message, exception_traceback, ret_code
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for _, r := range results {
		res, err := tx.ExecContext(ctx, query,
			r.RunID,
			r.Test,
			r.Status,
			r.ExceptionClass,
			r.ExceptionMessage,
			r.ExceptionTraceback,
			r.RetCode,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to add test result %s: %w", r.Test, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit test results: %w", err)
	}

	return nil
}

// ListTestResults lists the results of a run ordered by test name.
func (s *SQLiteStore) ListTestResults(ctx context.Context, runID string) ([]*TestResult, error) {
	query := `
		SELECT id, run_id, test, status, exception_class, exception_message, exception_traceback, ret_code
		FROM test_results
		WHERE run_id = ?
		ORDER BY test
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test results: %w", err)
	}
	defer rows.Close()

	results := []*TestResult{}
	for rows.Next() {
		r := &TestResult{}
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Test,
			&r.Status,
			&r.ExceptionClass,
			&r.ExceptionMessage,
			&r.ExceptionTraceback,
			&r.RetCode,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test results: %w", err)
	}

	return results, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
