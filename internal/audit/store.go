package audit

import (
	"context"
	"database/sql"
	"time"

	"taskplane.io/internal/obs"
)

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*LogStore)(nil)
)

// PGStore appends entries to the audit_log table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, tenant_id, actor_id, actor_email, action, target_type, target_id,
		 occurred_at, duration_ms, outcome, message, severity, ip, user_agent, request_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		entry.ID, entry.TenantID, entry.ActorID, entry.ActorEmail, entry.Action,
		entry.TargetType, entry.TargetID, entry.OccurredAt,
		entry.Duration.Milliseconds(), entry.Outcome, entry.Message, entry.Severity,
		entry.IP, entry.UserAgent, entry.RequestID,
	)
	return err
}

// LogStore writes entries as structured JSON log lines. Used when no database
// is configured.
type LogStore struct{}

func NewLogStore() *LogStore { return &LogStore{} }

func (s *LogStore) Append(_ context.Context, entry *Entry) error {
	logEntry(entry)
	return nil
}

func logEntry(entry *Entry) {
	fields := map[string]any{
		"ts":          entry.OccurredAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"id":          entry.ID,
		"tenant":      entry.TenantID,
		"actor":       entry.ActorID,
		"actor_email": entry.ActorEmail,
		"action":      entry.Action,
		"outcome":     entry.Outcome,
		"severity":    entry.Severity,
		"duration_ms": entry.Duration.Milliseconds(),
	}
	if entry.TargetType != "" {
		fields["target_type"] = entry.TargetType
		fields["target_id"] = entry.TargetID
	}
	if entry.Message != "" {
		fields["message"] = entry.Message
	}
	if entry.RequestID != "" {
		fields["request_id"] = entry.RequestID
	}
	if entry.IP != "" {
		fields["ip"] = entry.IP
	}
	if entry.UserAgent != "" {
		fields["user_agent"] = entry.UserAgent
	}
	obs.LogRequest(fields)
}
