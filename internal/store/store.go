package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/injection"
	"github.com/ggonzalez94/swapguard/internal/plan"
)

const (
	defaultListLimit = 20
	lockTimeout      = 5 * time.Second
)

// Store persists security audit events and settled plans in sqlite. Writes
// are serialized across processes with a file lock.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create audit lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			patterns TEXT NOT NULL,
			input_length INTEGER NOT NULL,
			flagged_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_audit_severity_flagged ON audit_events(severity, flagged_at DESC);",
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			step_count INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_plans_status_updated ON plans(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init audit schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSecurityEvent implements injection.AuditSink.
func (s *Store) RecordSecurityEvent(ctx context.Context, rec injection.AuditRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record audit event: missing id")
	}
	patterns, err := json.Marshal(rec.Patterns)
	if err != nil {
		return fmt.Errorf("marshal audit patterns: %w", err)
	}
	flagged := rec.Timestamp
	if flagged.IsZero() {
		flagged = time.Now()
	}
	return s.withLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_events (id, source, severity, patterns, input_length, flagged_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, rec.ID, rec.Source, string(rec.Severity), string(patterns), rec.InputLength, flagged.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("record audit event: %w", err)
		}
		return nil
	})
}

// ListSecurityEvents returns the newest audit events first, optionally
// filtered by severity.
func (s *Store) ListSecurityEvents(ctx context.Context, severity string, limit int) ([]injection.AuditRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(severity) == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT id, source, severity, patterns, input_length, flagged_at FROM audit_events ORDER BY flagged_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT id, source, severity, patterns, input_length, flagged_at FROM audit_events WHERE severity = ? ORDER BY flagged_at DESC LIMIT ?", strings.ToLower(strings.TrimSpace(severity)), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]injection.AuditRecord, 0)
	for rows.Next() {
		var (
			rec      injection.AuditRecord
			sev      string
			patterns string
			flagged  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &sev, &patterns, &rec.InputLength, &flagged); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if err := json.Unmarshal([]byte(patterns), &rec.Patterns); err != nil {
			return nil, fmt.Errorf("decode audit patterns: %w", err)
		}
		rec.Severity = injection.Severity(sev)
		rec.Timestamp = time.UnixMilli(flagged).UTC()
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return events, nil
}

// PlanRecord is a stored plan. Payload holds the plan exactly as it was
// rendered when it settled.
type PlanRecord struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	StepCount int             `json:"step_count"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// SavePlan implements plan.Recorder.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("save plan: missing plan id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	created, updated := p.CreatedAt, p.UpdatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}
	return s.withLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO plans (plan_id, status, step_count, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(plan_id) DO UPDATE SET
				status=excluded.status,
				step_count=excluded.step_count,
				updated_at=excluded.updated_at,
				payload=excluded.payload
		`, p.ID, string(p.Status), len(p.Steps), created.UTC().UnixMilli(), updated.UTC().UnixMilli(), payload)
		if err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
		return nil
	})
}

func (s *Store) GetPlan(ctx context.Context, id string) (PlanRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT plan_id, status, step_count, created_at, updated_at, payload FROM plans WHERE plan_id = ?", id)
	rec, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlanRecord{}, clierr.New(clierr.CodeNotFound, "plan not found: "+id)
		}
		return PlanRecord{}, fmt.Errorf("read plan: %w", err)
	}
	return rec, nil
}

func (s *Store) ListPlans(ctx context.Context, status string, limit int) ([]PlanRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT plan_id, status, step_count, created_at, updated_at, payload FROM plans ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT plan_id, status, step_count, created_at, updated_at, payload FROM plans WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]PlanRecord, 0)
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		plans = append(plans, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan rows: %w", err)
	}
	return plans, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (PlanRecord, error) {
	var (
		rec              PlanRecord
		created, updated int64
		payload          []byte
	)
	if err := row.Scan(&rec.ID, &rec.Status, &rec.StepCount, &created, &updated, &payload); err != nil {
		return PlanRecord{}, err
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock audit store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock audit store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
