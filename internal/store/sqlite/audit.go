package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/mcpmux/internal/store"
)

const auditColumns = `id, timestamp, request_type, client_id, server_id, server_name,
	target, params_redacted, status, error_code, error_message, response_summary,
	latency_ms, response_size, created_at`

func (d *DB) InsertAuditRecord(ctx context.Context, r *store.AuditRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO audit_records (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.Timestamp), r.RequestType, r.ClientID, r.ServerID,
		r.ServerName, r.Target, normalizeJSON(r.ParamsRedacted, "{}"), r.Status,
		r.ErrorCode, r.ErrorMessage, r.ResponseSummary, r.LatencyMs, r.ResponseSize,
		formatTime(r.CreatedAt),
	)
	return err
}

func (d *DB) QueryAuditRecords(
	ctx context.Context, f store.AuditFilter,
) ([]store.AuditRecord, int, error) {
	where, args := buildAuditWhere(f)

	var total int
	if err := d.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_records"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records`+where+
			` ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.AuditRecord
	for rows.Next() {
		r, err := scanAuditRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

func buildAuditWhere(f store.AuditFilter) (string, []any) {
	var conds []string
	var args []any
	eq := func(col string, v *string) {
		if v != nil {
			conds = append(conds, col+" = ?")
			args = append(args, *v)
		}
	}
	eq("client_id", f.ClientID)
	eq("server_id", f.ServerID)
	eq("request_type", f.RequestType)
	eq("status", f.Status)
	if f.After != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(*f.After))
	}
	if f.Before != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTime(*f.Before))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditRow(row rowScanner) (*store.AuditRecord, error) {
	var r store.AuditRecord
	var ts, params, createdAt string
	if err := row.Scan(
		&r.ID, &ts, &r.RequestType, &r.ClientID, &r.ServerID, &r.ServerName,
		&r.Target, &params, &r.Status, &r.ErrorCode, &r.ErrorMessage,
		&r.ResponseSummary, &r.LatencyMs, &r.ResponseSize, &createdAt,
	); err != nil {
		return nil, err
	}
	r.Timestamp = parseTime(ts)
	r.CreatedAt = parseTime(createdAt)
	r.ParamsRedacted = []byte(params)
	return &r, nil
}
