// Package store implements the C2's durable relational store: sessions,
// executions and reports, with cascading deletes as required by spec §3/I2.
// Grounded on the teacher's pkg/storage/persistent/store.go (pgx/v5 +
// pgxpool access pattern, prepared SQL constants); the schema itself is
// authored from scratch since no schema.sql shipped with the reference
// implementation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/secchiware/secchiware/pkg/testpkg"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrSessionActive is returned by DeleteSession when the target session has
// no session_end, per spec §8 scenario 5 ("an active session MUST NOT be
// deletable").
var ErrSessionActive = errors.New("store: session is active")

// Store is the C2's durable persistence contract.
type Store interface {
	OpenSession(ctx context.Context, ip string, port int, platform PlatformInfo) (*Session, error)
	CloseSession(ctx context.Context, ip string, port int) (*Session, error)
	GetSession(ctx context.Context, id int64) (*Session, error)
	ListSessions(ctx context.Context, f Filter) ([]Session, error)
	DeleteSession(ctx context.Context, id int64) error

	CreateExecution(ctx context.Context, sessionID int64) (*Execution, error)
	ListExecutions(ctx context.Context, f Filter) ([]Execution, error)
	DeleteExecution(ctx context.Context, id int64) error

	SaveReports(ctx context.Context, executionID int64, reports []testpkg.Report) error
	ListReports(ctx context.Context, executionID int64) ([]Report, error)

	Close() error
}

// PostgresStore implements Store using pgx/v5.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// New connects to dsn and verifies it can reach the database.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	logger.Info("postgres connection pool established")
	return &PostgresStore{db: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

const insertSessionSQL = `
	INSERT INTO session (
		env_ip, env_port, os_system, os_release, os_version, machine, processor,
		runtime_build_no, runtime_build_date, runtime_compiler, runtime_implementation, runtime_version
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id, session_start;
`

func (s *PostgresStore) OpenSession(ctx context.Context, ip string, port int, p PlatformInfo) (*Session, error) {
	sess := &Session{EnvIP: ip, EnvPort: port, Platform: p}
	err := s.db.QueryRow(ctx, insertSessionSQL,
		ip, port, p.OSSystem, p.OSRelease, p.OSVersion, p.Machine, p.Processor,
		p.RuntimeBuildNo, p.RuntimeBuildDate, p.RuntimeCompiler, p.RuntimeImplementation, p.RuntimeVersion,
	).Scan(&sess.ID, &sess.SessionStart)
	if err != nil {
		return nil, fmt.Errorf("store: opening session for %s:%d: %w", ip, port, err)
	}
	return sess, nil
}

const closeSessionSQL = `
	UPDATE session SET session_end = now()
	WHERE env_ip = $1 AND env_port = $2 AND session_end IS NULL
	RETURNING id, session_start, session_end;
`

func (s *PostgresStore) CloseSession(ctx context.Context, ip string, port int) (*Session, error) {
	sess := &Session{EnvIP: ip, EnvPort: port}
	err := s.db.QueryRow(ctx, closeSessionSQL, ip, port).Scan(&sess.ID, &sess.SessionStart, &sess.SessionEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: closing session for %s:%d: %w", ip, port, err)
	}
	return sess, nil
}

const getSessionSQL = `
	SELECT id, session_start, session_end, env_ip, env_port, os_system, os_release, os_version,
		machine, processor, runtime_build_no, runtime_build_date, runtime_compiler, runtime_implementation, runtime_version
	FROM session WHERE id = $1;
`

func (s *PostgresStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, getSessionSQL, id).Scan(
		&sess.ID, &sess.SessionStart, &sess.SessionEnd, &sess.EnvIP, &sess.EnvPort,
		&sess.Platform.OSSystem, &sess.Platform.OSRelease, &sess.Platform.OSVersion,
		&sess.Platform.Machine, &sess.Platform.Processor,
		&sess.Platform.RuntimeBuildNo, &sess.Platform.RuntimeBuildDate,
		&sess.Platform.RuntimeCompiler, &sess.Platform.RuntimeImplementation, &sess.Platform.RuntimeVersion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: getting session %d: %w", id, err)
	}
	return &sess, nil
}

var sessionOrderColumns = map[string]string{
	"id":            "id",
	"session_start": "session_start",
	"session_end":   "session_end",
	"env_ip":        "env_ip",
	"env_port":      "env_port",
}

func (s *PostgresStore) ListSessions(ctx context.Context, f Filter) ([]Session, error) {
	where, args := []string{}, []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.IDs) > 0 {
		where = append(where, "id = ANY("+arg(f.IDs)+")")
	}
	if len(f.IPs) > 0 {
		where = append(where, "env_ip = ANY("+arg(f.IPs)+")")
	}
	if len(f.Ports) > 0 {
		where = append(where, "env_port = ANY("+arg(f.Ports)+")")
	}
	if len(f.Systems) > 0 {
		where = append(where, "os_system = ANY("+arg(f.Systems)+")")
	}
	if f.From != nil {
		where = append(where, "session_start >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "session_start <= "+arg(*f.To))
	}

	query := getSessionSQL[:strings.Index(getSessionSQL, "FROM session")] + "FROM session"
	query = strings.TrimSuffix(strings.TrimSpace(query), ";")
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	orderCol := "id"
	if f.OrderBy != "" {
		col, ok := sessionOrderColumns[f.OrderBy]
		if !ok {
			return nil, fmt.Errorf("store: unknown order_by %q", f.OrderBy)
		}
		orderCol = col
	}
	direction := "ASC"
	if strings.EqualFold(f.Arrange, "desc") {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderCol, direction)

	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.SessionStart, &sess.SessionEnd, &sess.EnvIP, &sess.EnvPort,
			&sess.Platform.OSSystem, &sess.Platform.OSRelease, &sess.Platform.OSVersion,
			&sess.Platform.Machine, &sess.Platform.Processor,
			&sess.Platform.RuntimeBuildNo, &sess.Platform.RuntimeBuildDate,
			&sess.Platform.RuntimeCompiler, &sess.Platform.RuntimeImplementation, &sess.Platform.RuntimeVersion,
		); err != nil {
			return nil, fmt.Errorf("store: scanning session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id int64) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Active() {
		return ErrSessionActive
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM session WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("store: deleting session %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const insertExecutionSQL = `
	INSERT INTO execution (fk_session) VALUES ($1)
	RETURNING id, timestamp_registered;
`

func (s *PostgresStore) CreateExecution(ctx context.Context, sessionID int64) (*Execution, error) {
	exec := &Execution{SessionID: sessionID}
	err := s.db.QueryRow(ctx, insertExecutionSQL, sessionID).Scan(&exec.ID, &exec.TimestampRegistered)
	if err != nil {
		return nil, fmt.Errorf("store: creating execution for session %d: %w", sessionID, err)
	}
	return exec, nil
}

var executionOrderColumns = map[string]string{
	"id":                   "id",
	"timestamp_registered": "timestamp_registered",
	"fk_session":           "fk_session",
}

func (s *PostgresStore) ListExecutions(ctx context.Context, f Filter) ([]Execution, error) {
	where, args := []string{}, []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.IDs) > 0 {
		where = append(where, "id = ANY("+arg(f.IDs)+")")
	}
	if f.From != nil {
		where = append(where, "timestamp_registered >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "timestamp_registered <= "+arg(*f.To))
	}

	query := "SELECT id, fk_session, timestamp_registered FROM execution"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	orderCol := "id"
	if f.OrderBy != "" {
		col, ok := executionOrderColumns[f.OrderBy]
		if !ok {
			return nil, fmt.Errorf("store: unknown order_by %q", f.OrderBy)
		}
		orderCol = col
	}
	direction := "ASC"
	if strings.EqualFold(f.Arrange, "desc") {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderCol, direction)
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TimestampRegistered); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteExecution(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM execution WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("store: deleting execution %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const insertReportSQL = `
	INSERT INTO report (fk_execution, test_name, test_description, result_code, timestamp_start, timestamp_end, additional_info)
	VALUES ($1, $2, $3, $4, $5, $6, $7);
`

func (s *PostgresStore) SaveReports(ctx context.Context, executionID int64, reports []testpkg.Report) error {
	batch := &pgx.Batch{}
	for _, r := range reports {
		start, err := time.Parse("2006-01-02T15:04:05.000000Z", r.TimestampStart)
		if err != nil {
			start = time.Now().UTC()
		}
		end, err := time.Parse("2006-01-02T15:04:05.000000Z", r.TimestampEnd)
		if err != nil {
			end = time.Now().UTC()
		}
		var infoJSON []byte
		if r.AdditionalInfo != nil {
			infoJSON, _ = json.Marshal(r.AdditionalInfo)
		}
		batch.Queue(insertReportSQL, executionID, r.TestName, r.TestDescription, r.ResultCode, start, end, infoJSON)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range reports {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: saving report for execution %d: %w", executionID, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListReports(ctx context.Context, executionID int64) ([]Report, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, fk_execution, test_name, test_description, result_code, timestamp_start, timestamp_end, additional_info
		FROM report WHERE fk_execution = $1 ORDER BY timestamp_start ASC;
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: listing reports for execution %d: %w", executionID, err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		var infoJSON []byte
		if err := rows.Scan(&r.ID, &r.ExecutionID, &r.TestName, &r.TestDescription, &r.ResultCode, &r.TimestampStart, &r.TimestampEnd, &infoJSON); err != nil {
			return nil, err
		}
		if len(infoJSON) > 0 {
			_ = json.Unmarshal(infoJSON, &r.AdditionalInfo)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
