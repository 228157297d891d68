package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/mcpmux/internal/store"
)

const serverColumns = `id, name, transport, command, args, env, input_params, url,
	bearer_token, auto_start, disabled, tool_permissions, source, created_at, updated_at`

func (d *DB) CreateServer(ctx context.Context, s *store.Server) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Source == "" {
		s.Source = "api"
	}

	bearer, err := d.sealSecret(s.BearerToken)
	if err != nil {
		return err
	}

	_, err = d.q.ExecContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Transport, s.Command,
		encodeJSON(s.Args, "[]"), encodeJSON(s.Env, "{}"), encodeJSON(s.InputParams, "{}"),
		s.URL, bearer, s.AutoStart, s.Disabled,
		encodeJSON(s.ToolPermissions, "{}"), s.Source,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetServer(ctx context.Context, id string) (*store.Server, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return d.scanServer(row)
}

func (d *DB) ListServers(ctx context.Context) ([]store.Server, error) {
	rows, err := d.q.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Server
	for rows.Next() {
		s, err := d.scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (d *DB) UpdateServer(ctx context.Context, s *store.Server) error {
	s.UpdatedAt = time.Now().UTC()

	bearer, err := d.sealSecret(s.BearerToken)
	if err != nil {
		return err
	}

	res, err := d.q.ExecContext(ctx, `
		UPDATE servers SET
			name = ?, transport = ?, command = ?, args = ?, env = ?, input_params = ?,
			url = ?, bearer_token = ?, auto_start = ?, disabled = ?,
			tool_permissions = ?, source = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, s.Transport, s.Command,
		encodeJSON(s.Args, "[]"), encodeJSON(s.Env, "{}"), encodeJSON(s.InputParams, "{}"),
		s.URL, bearer, s.AutoStart, s.Disabled,
		encodeJSON(s.ToolPermissions, "{}"), s.Source,
		formatTime(s.UpdatedAt), s.ID,
	)
	if err != nil {
		return mapConstraintError(err)
	}
	return checkRowsAffected(res)
}

func (d *DB) DeleteServer(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) scanServer(row rowScanner) (*store.Server, error) {
	var s store.Server
	var args, env, params, perms, createdAt, updatedAt string
	var bearer []byte

	err := row.Scan(
		&s.ID, &s.Name, &s.Transport, &s.Command, &args, &env, &params, &s.URL,
		&bearer, &s.AutoStart, &s.Disabled, &perms, &s.Source, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(args, &s.Args); err != nil {
		return nil, fmt.Errorf("decode args for %s: %w", s.ID, err)
	}
	if err := decodeJSON(env, &s.Env); err != nil {
		return nil, fmt.Errorf("decode env for %s: %w", s.ID, err)
	}
	if err := decodeJSON(params, &s.InputParams); err != nil {
		return nil, fmt.Errorf("decode input params for %s: %w", s.ID, err)
	}
	if err := decodeJSON(perms, &s.ToolPermissions); err != nil {
		return nil, fmt.Errorf("decode tool permissions for %s: %w", s.ID, err)
	}
	if s.BearerToken, err = d.openSecret(bearer); err != nil {
		return nil, fmt.Errorf("open bearer token for %s: %w", s.ID, err)
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

func (d *DB) sealSecret(plain string) ([]byte, error) {
	if plain == "" {
		return nil, nil
	}
	if d.cipher == nil {
		return []byte(plain), nil
	}
	sealed, err := d.cipher.Encrypt([]byte(plain))
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	return sealed, nil
}

func (d *DB) openSecret(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if d.cipher == nil {
		return string(data), nil
	}
	plain, err := d.cipher.Decrypt(data)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
