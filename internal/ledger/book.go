// Package ledger holds the in-memory account book, the gate serializing
// access to it, and the command processor that executes validated command
// invocations against it.
package ledger

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"commoncoin.gg/internal/money"
	"commoncoin.gg/internal/persistence/snapshot"
)

// UnaffiliatedTag is the faction bucket for accounts with no tag set.
const UnaffiliatedTag = "unaffiliated"

var (
	ErrUnknownAccount = errors.New("unknown account")
)

type Account struct {
	Balance money.Money
	Faction string
}

// Book is the full account mapping plus its persistence flags. It is not
// internally synchronized: every caller mutates it while holding the Gate.
type Book struct {
	log *log.Logger

	path      string
	backupDir string

	accounts map[string]*Account
	order    []string // insertion order; breaks leaderboard ties

	dirty       bool
	needsBackup bool
}

// Open loads the canonical snapshot under dataDir. A missing or unparsable
// snapshot logs and starts empty: the ledger never refuses to start over a
// corrupt file. Data loss over downtime is a deliberate trade-off here.
func Open(dataDir string, logger *log.Logger) *Book {
	b := &Book{
		log:       logger,
		path:      filepath.Join(dataDir, "accounts.json"),
		backupDir: filepath.Join(dataDir, "backups"),
		accounts:  map[string]*Account{},
	}

	doc, err := snapshot.Read(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("no snapshot at %s; starting empty", b.path)
		} else {
			logger.Printf("snapshot read failed (%v); starting empty", err)
		}
		return b
	}

	ids := make([]string, 0, len(doc.Accounts))
	for id := range doc.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		acct := doc.Accounts[id]
		b.accounts[id] = &Account{Balance: acct.Balance, Faction: acct.Faction}
		b.order = append(b.order, id)
	}
	logger.Printf("loaded %d accounts from %s", len(ids), b.path)
	return b
}

// GetOrCreate returns the account's balance, creating the account at zero
// on first observation. created reports whether this call created it; the
// caller owns the corresponding audit emission.
func (b *Book) GetOrCreate(id string) (bal money.Money, created bool) {
	id = strings.TrimSpace(id)
	if a, ok := b.accounts[id]; ok {
		return a.Balance, false
	}
	b.accounts[id] = &Account{}
	b.order = append(b.order, id)
	b.dirty = true
	return 0, true
}

// Balance reads without the implicit-create side effect.
func (b *Book) Balance(id string) (money.Money, error) {
	a, ok := b.accounts[strings.TrimSpace(id)]
	if !ok {
		return 0, ErrUnknownAccount
	}
	return a.Balance, nil
}

// SetBalance overwrites an existing account's balance. Callers must have
// created the account via GetOrCreate first.
func (b *Book) SetBalance(id string, v money.Money) error {
	a, ok := b.accounts[strings.TrimSpace(id)]
	if !ok {
		return ErrUnknownAccount
	}
	a.Balance = v
	b.dirty = true
	return nil
}

// Faction returns the account's tag, or UnaffiliatedTag when unset.
func (b *Book) Faction(id string) (string, error) {
	a, ok := b.accounts[strings.TrimSpace(id)]
	if !ok {
		return "", ErrUnknownAccount
	}
	if a.Faction == "" {
		return UnaffiliatedTag, nil
	}
	return a.Faction, nil
}

// SetFaction overwrites an existing account's tag. Same existence contract
// as SetBalance.
func (b *Book) SetFaction(id, tag string) error {
	a, ok := b.accounts[strings.TrimSpace(id)]
	if !ok {
		return ErrUnknownAccount
	}
	a.Faction = tag
	b.dirty = true
	return nil
}

// Commit writes the full mapping to the canonical file if anything changed
// since the last commit. This is the only writer of the canonical file.
// On write failure the dirty flag stays set so the next commit retries.
func (b *Book) Commit() error {
	if !b.dirty {
		return nil
	}
	if err := snapshot.Write(b.path, b.doc()); err != nil {
		return err
	}
	b.dirty = false
	b.needsBackup = true
	return nil
}

// BackupIfNeeded writes a timestamped copy when the canonical file gained
// new information since the last backup. Returns the copy's path, or ""
// when no backup was needed. Commits first so the copy reflects the
// latest state even if a caller forgot to.
func (b *Book) BackupIfNeeded(now time.Time) (string, error) {
	if !b.needsBackup && !b.dirty {
		return "", nil
	}
	if err := b.Commit(); err != nil {
		return "", err
	}
	path, err := snapshot.WriteCopy(b.backupDir, now, b.doc())
	if err != nil {
		return "", err
	}
	b.needsBackup = false
	return path, nil
}

func (b *Book) doc() snapshot.DocV2 {
	doc := snapshot.DocV2{Accounts: make(map[string]snapshot.AccountV2, len(b.accounts))}
	for id, a := range b.accounts {
		doc.Accounts[id] = snapshot.AccountV2{Balance: a.Balance, Faction: a.Faction}
	}
	return doc
}

// Total is the sum of all balances. Recomputed on demand; account counts
// stay in the low thousands.
func (b *Book) Total() money.Money {
	var t money.Money
	for _, a := range b.accounts {
		t = t.Add(a.Balance)
	}
	return t
}

func (b *Book) Len() int { return len(b.accounts) }

type Entry struct {
	ID      string
	Balance money.Money
}

// Top returns the n richest accounts, ties broken by insertion order.
func (b *Book) Top(n int) []Entry {
	entries := make([]Entry, 0, len(b.order))
	for _, id := range b.order {
		entries = append(entries, Entry{ID: id, Balance: b.accounts[id].Balance})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Balance > entries[j].Balance
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

type FactionTotal struct {
	Tag   string
	Total money.Money
}

// FactionTotals sums balances per faction tag; untagged accounts roll up
// under UnaffiliatedTag. Sorted by total descending, first-seen order on
// ties.
func (b *Book) FactionTotals() []FactionTotal {
	sums := map[string]money.Money{}
	var tags []string
	for _, id := range b.order {
		a := b.accounts[id]
		tag := a.Faction
		if tag == "" {
			tag = UnaffiliatedTag
		}
		if _, ok := sums[tag]; !ok {
			tags = append(tags, tag)
		}
		sums[tag] = sums[tag].Add(a.Balance)
	}
	totals := make([]FactionTotal, 0, len(tags))
	for _, tag := range tags {
		totals = append(totals, FactionTotal{Tag: tag, Total: sums[tag]})
	}
	sort.SliceStable(totals, func(i, j int) bool {
		return totals[i].Total > totals[j].Total
	})
	return totals
}

// Dirty and NeedsBackup expose persistence state for metrics and tests.
func (b *Book) Dirty() bool       { return b.dirty }
func (b *Book) NeedsBackup() bool { return b.needsBackup }
