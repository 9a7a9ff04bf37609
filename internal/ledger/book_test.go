package ledger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"commoncoin.gg/internal/money"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestBook(t *testing.T) (*Book, string) {
	t.Helper()
	dir := t.TempDir()
	return Open(dir, testLogger()), dir
}

func TestGetOrCreate(t *testing.T) {
	b, _ := newTestBook(t)

	bal, created := b.GetOrCreate("A")
	if bal != 0 || !created {
		t.Fatalf("first call = (%v, %v), want (0.00, true)", bal, created)
	}
	if !b.Dirty() {
		t.Fatalf("store not dirty after implicit create")
	}

	bal, created = b.GetOrCreate("A")
	if bal != 0 || created {
		t.Fatalf("second call = (%v, %v), want (0.00, false)", bal, created)
	}
}

func TestGetOrCreate_TrimsID(t *testing.T) {
	b, _ := newTestBook(t)
	b.GetOrCreate("  A  ")
	if _, created := b.GetOrCreate("A"); created {
		t.Fatalf("trimmed id created a second account")
	}
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}
}

func TestSetBalance_UnknownAccount(t *testing.T) {
	b, _ := newTestBook(t)
	if err := b.SetBalance("ghost", 100); err != ErrUnknownAccount {
		t.Fatalf("err = %v, want ErrUnknownAccount", err)
	}
	if err := b.SetFaction("ghost", "astral"); err != ErrUnknownAccount {
		t.Fatalf("setFaction err = %v, want ErrUnknownAccount", err)
	}
	if _, err := b.Faction("ghost"); err != ErrUnknownAccount {
		t.Fatalf("faction err = %v, want ErrUnknownAccount", err)
	}
}

func TestFaction_DefaultsToUnaffiliated(t *testing.T) {
	b, _ := newTestBook(t)
	b.GetOrCreate("A")
	tag, err := b.Faction("A")
	if err != nil || tag != UnaffiliatedTag {
		t.Fatalf("faction = (%q, %v)", tag, err)
	}
}

func TestCommit_OnlyWhenDirty(t *testing.T) {
	b, dir := newTestBook(t)
	path := filepath.Join(dir, "accounts.json")

	// Clean store: no I/O.
	if err := b.Commit(); err != nil {
		t.Fatalf("commit clean: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("clean commit wrote a file")
	}

	b.GetOrCreate("A")
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat after commit: %v", err)
	}
	if b.Dirty() || !b.NeedsBackup() {
		t.Fatalf("flags after commit: dirty=%v needsBackup=%v", b.Dirty(), b.NeedsBackup())
	}

	// Second commit with no changes performs no I/O.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit idempotent: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("idempotent commit rewrote the file")
	}
}

func TestOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := Open(dir, testLogger())
	b.GetOrCreate("A")
	if err := b.SetBalance("A", money.FromMinor(6950)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.SetFaction("A", "astral"); err != nil {
		t.Fatalf("set faction: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	b2 := Open(dir, testLogger())
	bal, err := b2.Balance("A")
	if err != nil || bal != money.FromMinor(6950) {
		t.Fatalf("reloaded balance = (%v, %v)", bal, err)
	}
	tag, err := b2.Faction("A")
	if err != nil || tag != "astral" {
		t.Fatalf("reloaded faction = (%q, %v)", tag, err)
	}
	if b2.Dirty() {
		t.Fatalf("freshly loaded store is dirty")
	}
}

func TestOpen_CorruptSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "accounts.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	b := Open(dir, testLogger())
	if b.Len() != 0 {
		t.Fatalf("len = %d, want 0", b.Len())
	}
}

func TestBackupIfNeeded(t *testing.T) {
	b, dir := newTestBook(t)

	// Nothing to back up.
	path, err := b.BackupIfNeeded(time.Now())
	if err != nil || path != "" {
		t.Fatalf("fresh backup = (%q, %v), want no-op", path, err)
	}

	b.GetOrCreate("A")
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	path, err = b.BackupIfNeeded(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if path == "" {
		t.Fatalf("expected a backup path")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "backups") {
		t.Fatalf("backup dir = %s", filepath.Dir(path))
	}
	if b.NeedsBackup() {
		t.Fatalf("needsBackup still set after backup")
	}

	// No new information: no second copy.
	path, err = b.BackupIfNeeded(time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC))
	if err != nil || path != "" {
		t.Fatalf("second backup = (%q, %v), want no-op", path, err)
	}
}

func TestBackupIfNeeded_CommitsFirst(t *testing.T) {
	b, _ := newTestBook(t)
	b.GetOrCreate("A") // dirty, never committed

	path, err := b.BackupIfNeeded(time.Now())
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if path == "" {
		t.Fatalf("uncommitted changes should force a backup")
	}
	if b.Dirty() || b.NeedsBackup() {
		t.Fatalf("flags after backup: dirty=%v needsBackup=%v", b.Dirty(), b.NeedsBackup())
	}
}

func TestTop_StableTies(t *testing.T) {
	b, _ := newTestBook(t)
	for _, id := range []string{"first", "second", "third"} {
		b.GetOrCreate(id)
	}
	_ = b.SetBalance("first", 100)
	_ = b.SetBalance("second", 200)
	_ = b.SetBalance("third", 100)

	top := b.Top(5)
	want := []string{"second", "first", "third"}
	for i, id := range want {
		if top[i].ID != id {
			t.Fatalf("top[%d] = %s, want %s", i, top[i].ID, id)
		}
	}

	if got := b.Top(2); len(got) != 2 {
		t.Fatalf("top(2) len = %d", len(got))
	}
}

func TestFactionTotals(t *testing.T) {
	b, _ := newTestBook(t)
	b.GetOrCreate("A")
	b.GetOrCreate("B")
	_ = b.SetBalance("A", money.FromMinor(6000))
	_ = b.SetBalance("B", money.FromMinor(4000))
	_ = b.SetFaction("A", "astral")

	totals := b.FactionTotals()
	if len(totals) != 2 {
		t.Fatalf("totals len = %d, want 2", len(totals))
	}
	if totals[0].Tag != "astral" || totals[0].Total != money.FromMinor(6000) {
		t.Fatalf("totals[0] = %+v", totals[0])
	}
	if totals[1].Tag != UnaffiliatedTag || totals[1].Total != money.FromMinor(4000) {
		t.Fatalf("totals[1] = %+v", totals[1])
	}
	if b.Total() != money.FromMinor(10000) {
		t.Fatalf("total = %v, want 100.00", b.Total())
	}
}
