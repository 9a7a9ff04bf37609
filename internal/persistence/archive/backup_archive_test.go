package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeBackup(t *testing.T, dir string, ts time.Time, body string) string {
	t.Helper()
	name := ts.Format(backupNameLayout) + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestCompactBackups(t *testing.T) {
	backupDir := t.TempDir()
	archiveDir := t.TempDir()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	old1 := writeBackup(t, backupDir, now.Add(-72*time.Hour), `{"a":1}`)
	old2 := writeBackup(t, backupDir, now.Add(-48*time.Hour), `{"a":2}`)
	fresh := writeBackup(t, backupDir, now.Add(-time.Hour), `{"a":3}`)
	// Foreign files are left alone.
	if err := os.WriteFile(filepath.Join(backupDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	bundle, n, err := CompactBackups(backupDir, archiveDir, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("bundled %d files, want 2", n)
	}
	if !strings.HasSuffix(bundle, ".tar.zst") {
		t.Fatalf("bundle path = %s", bundle)
	}

	// Aged copies are gone, fresh one and foreign file remain.
	if _, err := os.Stat(filepath.Join(backupDir, old1)); !os.IsNotExist(err) {
		t.Fatalf("old backup still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(backupDir, fresh)); err != nil {
		t.Fatalf("fresh backup missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(backupDir, "notes.txt")); err != nil {
		t.Fatalf("foreign file missing: %v", err)
	}

	contents, err := ReadBundle(bundle)
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 2 {
		t.Fatalf("bundle entries = %d, want 2", len(contents))
	}
	if string(contents[old2]) != `{"a":2}` {
		t.Fatalf("bundle content for %s = %q", old2, contents[old2])
	}

	meta := strings.TrimSuffix(bundle, ".tar.zst") + ".meta.json"
	if _, err := os.Stat(meta); err != nil {
		t.Fatalf("meta file missing: %v", err)
	}
}

func TestCompactBackups_NothingAged(t *testing.T) {
	backupDir := t.TempDir()
	now := time.Now().UTC()
	writeBackup(t, backupDir, now, `{}`)

	bundle, n, err := CompactBackups(backupDir, t.TempDir(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if bundle != "" || n != 0 {
		t.Fatalf("compact = (%q, %d), want no-op", bundle, n)
	}
}

func TestCompactBackups_MissingDir(t *testing.T) {
	bundle, n, err := CompactBackups(filepath.Join(t.TempDir(), "nope"), t.TempDir(), time.Now())
	if err != nil || bundle != "" || n != 0 {
		t.Fatalf("compact = (%q, %d, %v), want silent no-op", bundle, n, err)
	}
}
