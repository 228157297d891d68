package sqlite_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/revittco/mcpmux/internal/store"
	"github.com/revittco/mcpmux/internal/store/sqlite"
)

func newTestDB(t *testing.T, opts ...sqlite.Option) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db", opts...)
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestServerCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := &store.Server{
		Name:            "files",
		Transport:       store.TransportLocal,
		Command:         "npx",
		Args:            []string{"-y", "server-files", "{ROOT}"},
		Env:             map[string]string{"DEBUG": "1"},
		InputParams:     map[string]string{"ROOT": "/tmp"},
		AutoStart:       true,
		ToolPermissions: map[string]bool{"delete_file": false},
	}
	if err := db.CreateServer(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected ID to be set")
	}

	got, err := db.GetServer(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(s.Args, got.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.InputParams, got.InputParams); diff != "" {
		t.Errorf("input params mismatch (-want +got):\n%s", diff)
	}
	if got.ToolEnabled("delete_file") {
		t.Error("delete_file should be disabled")
	}
	if !got.ToolEnabled("read_file") {
		t.Error("read_file should default to enabled")
	}
	if got.Source != "api" {
		t.Errorf("source = %q, want api", got.Source)
	}

	got.Name = "files-renamed"
	got.Disabled = true
	if err := db.UpdateServer(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = db.GetServer(ctx, s.ID)
	if got.Name != "files-renamed" || !got.Disabled {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := db.DeleteServer(ctx, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetServer(ctx, s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete: err = %v, want ErrNotFound", err)
	}
	if err := db.DeleteServer(ctx, s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestServerDuplicateName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateServer(ctx, &store.Server{Name: "dup", Transport: store.TransportLocal}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := db.CreateServer(ctx, &store.Server{Name: "dup", Transport: store.TransportLocal})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestListServersOrderedByID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := db.CreateServer(ctx, &store.Server{ID: id, Name: "srv-" + id, Transport: store.TransportLocal}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	list, err := db.ListServers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

// xorCipher is a reversible test cipher that makes sealed bytes differ from plaintext.
type xorCipher struct{}

func (xorCipher) Encrypt(p []byte) ([]byte, error) { return xor(p), nil }
func (xorCipher) Decrypt(c []byte) ([]byte, error) { return xor(c), nil }

func xor(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ 0x5a
	}
	return out
}

func TestBearerTokenSealed(t *testing.T) {
	path := t.TempDir() + "/sealed.db"
	ctx := context.Background()

	db, err := sqlite.New(ctx, path, sqlite.WithCipher(xorCipher{}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := &store.Server{Name: "remote", Transport: store.TransportRemote, URL: "https://x", BearerToken: "s3cret"}
	if err := db.CreateServer(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := db.GetServer(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BearerToken != "s3cret" {
		t.Fatalf("bearer = %q, want s3cret", got.BearerToken)
	}
	db.Close()

	// Without the cipher the raw column is returned as-is.
	raw, err := sqlite.New(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer raw.Close()
	got, err = raw.GetServer(ctx, s.ID)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if got.BearerToken == "s3cret" {
		t.Fatal("bearer token stored in plaintext")
	}
	if !bytes.Equal([]byte(got.BearerToken), xor([]byte("s3cret"))) {
		t.Fatalf("unexpected sealed value %q", got.BearerToken)
	}
}

func TestTokenCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tok := &store.Token{
		ID:        "mcpmux_abc",
		ClientID:  "desktop",
		Scopes:    []string{store.ScopeApplication},
		ServerIDs: []string{"s1", "s2"},
	}
	if err := db.CreateToken(ctx, tok); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.CreateToken(ctx, &store.Token{ClientID: "x"}); err == nil {
		t.Fatal("expected error for empty token id")
	}

	got, err := db.GetToken(ctx, "mcpmux_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.HasServer("s2") || got.HasServer("s3") {
		t.Fatalf("server ids = %v", got.ServerIDs)
	}
	if !got.HasScope(store.ScopeApplication) {
		t.Fatalf("scopes = %v", got.Scopes)
	}

	got.ServerIDs = []string{"s1"}
	if err := db.UpdateToken(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := db.ListTokens(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || len(list[0].ServerIDs) != 1 {
		t.Fatalf("list = %+v", list)
	}

	if err := db.DeleteToken(ctx, "mcpmux_abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetToken(ctx, "mcpmux_abc"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTxRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Tx(ctx, func(tx store.Store) error {
		if err := tx.CreateToken(ctx, &store.Token{ID: "t1", ClientID: "c1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := db.GetToken(ctx, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("token persisted despite rollback: %v", err)
	}
}

func TestAuditQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	records := []store.AuditRecord{
		{Timestamp: base, RequestType: "tools/call", ClientID: "a", ServerID: "s1", Status: store.StatusSuccess},
		{Timestamp: base.Add(time.Minute), RequestType: "tools/call", ClientID: "b", ServerID: "s1", Status: store.StatusError, ErrorCode: "backend_failure"},
		{Timestamp: base.Add(2 * time.Minute), RequestType: "resources/read", ClientID: "a", ServerID: "s2", Status: store.StatusSuccess,
			ParamsRedacted: json.RawMessage(`{"uri":"resource://s2/x"}`)},
	}
	for i := range records {
		if err := db.InsertAuditRecord(ctx, &records[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	all, total, err := db.QueryAuditRecords(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", total, len(all))
	}
	if all[0].RequestType != "resources/read" {
		t.Fatalf("expected newest first, got %s", all[0].RequestType)
	}
	if string(all[0].ParamsRedacted) != `{"uri":"resource://s2/x"}` {
		t.Fatalf("params = %s", all[0].ParamsRedacted)
	}

	client := "a"
	got, total, err := db.QueryAuditRecords(ctx, store.AuditFilter{ClientID: &client})
	if err != nil {
		t.Fatalf("query client: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("client filter total = %d", total)
	}

	status := store.StatusError
	got, _, err = db.QueryAuditRecords(ctx, store.AuditFilter{Status: &status})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if len(got) != 1 || got[0].ClientID != "b" {
		t.Fatalf("status filter = %+v", got)
	}

	after := base.Add(30 * time.Second)
	got, total, err = db.QueryAuditRecords(ctx, store.AuditFilter{After: &after, Limit: 1})
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if total != 2 || len(got) != 1 {
		t.Fatalf("after filter total = %d len = %d", total, len(got))
	}
}
