package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revittco/mcpmux/internal/store"
)

const tokenColumns = `id, client_id, scopes, server_ids, source, created_at, updated_at`

func (d *DB) CreateToken(ctx context.Context, t *store.Token) error {
	if t.ID == "" {
		return errors.New("token id is required")
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Source == "" {
		t.Source = "api"
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ClientID, encodeJSON(t.Scopes, "[]"), encodeJSON(t.ServerIDs, "[]"),
		t.Source, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetToken(ctx context.Context, id string) (*store.Token, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, id)
	return scanToken(row)
}

func (d *DB) ListTokens(ctx context.Context) ([]store.Token, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens ORDER BY client_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (d *DB) UpdateToken(ctx context.Context, t *store.Token) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := d.q.ExecContext(ctx, `
		UPDATE tokens SET client_id = ?, scopes = ?, server_ids = ?, source = ?, updated_at = ?
		WHERE id = ?`,
		t.ClientID, encodeJSON(t.Scopes, "[]"), encodeJSON(t.ServerIDs, "[]"),
		t.Source, formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return mapConstraintError(err)
	}
	return checkRowsAffected(res)
}

func (d *DB) DeleteToken(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func scanToken(row rowScanner) (*store.Token, error) {
	var t store.Token
	var scopes, servers, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.ClientID, &scopes, &servers, &t.Source, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(scopes, &t.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes for %s: %w", t.ClientID, err)
	}
	if err := decodeJSON(servers, &t.ServerIDs); err != nil {
		return nil, fmt.Errorf("decode server ids for %s: %w", t.ClientID, err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
