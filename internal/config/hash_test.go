package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileDigest(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("auth:\n  principal_id: one\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("auth:\n  principal_id: two\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ha, err := FileDigest(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	again, _ := FileDigest(a)
	hb, _ := FileDigest(b)

	if len(ha) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(ha))
	}
	if ha != again {
		t.Fatal("hash is not stable")
	}
	if ha == hb {
		t.Fatal("different content produced the same hash")
	}
	if _, err := FileDigest(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFingerprint(t *testing.T) {
	cfg := Defaults()
	if got := cfg.Fingerprint(); got != "" {
		t.Fatalf("expected empty fingerprint without a source, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: strategist\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.SourcePath = path
	full, _ := FileDigest(path)
	if got := cfg.Fingerprint(); got != full[:12] {
		t.Fatalf("fingerprint = %q, want %q", got, full[:12])
	}
}
