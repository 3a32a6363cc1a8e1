package injection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditRecord is the security-audit trail of a flagged input. It never holds
// the flagged text itself, only its length.
type AuditRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Severity    Severity  `json:"severity"`
	Patterns    []string  `json:"patterns"`
	InputLength int       `json:"input_length"`
}

func NewAuditRecord(res Result, source string, inputLength int, now time.Time) AuditRecord {
	return AuditRecord{
		ID:          uuid.NewString(),
		Timestamp:   now.UTC(),
		Source:      source,
		Severity:    res.Severity,
		Patterns:    append([]string(nil), res.MatchedPatterns...),
		InputLength: inputLength,
	}
}

// AuditSink receives security-audit records.
type AuditSink interface {
	RecordSecurityEvent(ctx context.Context, rec AuditRecord) error
}

// LogSink writes audit records as structured log events.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordSecurityEvent(_ context.Context, rec AuditRecord) error {
	s.logger.Warn().
		Str("event", "security_audit").
		Str("audit_id", rec.ID).
		Str("source", rec.Source).
		Str("severity", string(rec.Severity)).
		Strs("patterns", rec.Patterns).
		Int("input_length", rec.InputLength).
		Time("flagged_at", rec.Timestamp).
		Msg("flagged input rejected")
	return nil
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []AuditSink

func (m MultiSink) RecordSecurityEvent(ctx context.Context, rec AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.RecordSecurityEvent(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
