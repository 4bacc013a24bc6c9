package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "data", "strategist.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "job_runs").Scan(&name); err != nil {
		t.Fatalf("table job_runs missing: %v", err)
	}

	// Bootstrapping twice is harmless.
	if err := Bootstrap(context.Background(), db); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := OpenPostgres(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty postgres dsn")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	q := "SELECT * FROM job_runs WHERE job = ? AND status = ? LIMIT ?"
	pg := &DB{Driver: DriverPostgres}
	if got := pg.Rebind(q); got != "SELECT * FROM job_runs WHERE job = $1 AND status = $2 LIMIT $3" {
		t.Fatalf("postgres Rebind = %q", got)
	}
	lite := &DB{Driver: DriverSQLite}
	if got := lite.Rebind(q); got != q {
		t.Fatalf("sqlite Rebind changed query: %q", got)
	}
}

func TestTimeRoundTripOrdersLexically(t *testing.T) {
	t.Parallel()

	a := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := a.Add(1500 * time.Millisecond)
	fa, fb := FormatTime(a), FormatTime(b)
	if len(fa) != len(fb) || !(fa < fb) {
		t.Fatalf("timestamps not fixed-width ordered: %q %q", fa, fb)
	}
	got, err := ParseTime(fb)
	if err != nil || !got.Equal(b) {
		t.Fatalf("ParseTime = %v, %v", got, err)
	}
}

func TestOpenSQLiteAppliesPragmas(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout;").Scan(&timeout); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}
