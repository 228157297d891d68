package sqlite

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/revittco/mcpmux/internal/store"
)

// timeFormat is fixed-width so TEXT comparisons order chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// encodeJSON marshals v, substituting fallback for nil/empty values.
func encodeJSON(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return fallback
	}
	return string(data)
}

// decodeJSON unmarshals a TEXT column, ignoring empty values.
func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func normalizeJSON(data json.RawMessage, fallback string) string {
	if len(data) == 0 {
		return fallback
	}
	return string(data)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "already exists") {
		return store.ErrAlreadyExists
	}
	return err
}
