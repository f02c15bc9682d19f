package dbopen

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := Open(path, WithMkdirAll(), WithBusyTimeout(2500))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode: got %q, want %q", mode, "wal")
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 2500 {
		t.Errorf("busy_timeout: got %d, want 2500", timeout)
	}
}

func TestOpenMemory_WithSchema(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`))
	ctx := context.Background()

	if _, err := Exec(ctx, db, `INSERT INTO t (v) VALUES (?)`, "x"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows: got %d, want 1", n)
	}
}

func TestOpen_BadSchema(t *testing.T) {
	if _, err := Open(":memory:", WithSchema(`NOT SQL`)); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestIsBusy(t *testing.T) {
	cases := map[error]bool{
		nil:                                 false,
		errors.New("SQLITE_BUSY"):           true,
		errors.New("database is locked"):    true,
		errors.New("no such table: checks"): false,
	}
	for err, want := range cases {
		if got := IsBusy(err); got != want {
			t.Errorf("IsBusy(%v): got %v, want %v", err, got, want)
		}
	}
}
