// Command admin inspects a ledger data directory offline: recent audit
// entries, backup history, the raw snapshot, and backup compaction.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"commoncoin.gg/internal/persistence/archive"
	"commoncoin.gg/internal/persistence/indexdb"
	"commoncoin.gg/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "audits":
			auditsCmd(os.Args[2:])
			return
		case "backups":
			backupsCmd(os.Args[2:])
			return
		case "accounts":
			accountsCmd(os.Args[2:])
			return
		case "compact":
			compactCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <audits|backups|accounts|compact> [flags]")
	os.Exit(2)
}

func openIndex(dataDir string) *indexdb.SQLiteIndex {
	idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "ledger.sqlite"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	return idx
}

func auditsCmd(args []string) {
	fs := flag.NewFlagSet("audits", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	idx := openIndex(*dataDir)
	defer idx.Close()

	entries, err := idx.RecentAudits(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		b, _ := json.Marshal(e)
		fmt.Println(string(b))
	}
}

func backupsCmd(args []string) {
	fs := flag.NewFlagSet("backups", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	idx := openIndex(*dataDir)
	defer idx.Close()

	records, err := idx.Backups(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range records {
		fmt.Printf("%s\t%d accounts\t%d minor units\t%s\n", r.CreatedAt, r.Accounts, r.TotalMinor, r.Path)
	}
}

func accountsCmd(args []string) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	doc, err := snapshot.Read(filepath.Join(*dataDir, "accounts.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	for id, a := range doc.Accounts {
		faction := a.Faction
		if faction == "" {
			faction = "-"
		}
		fmt.Printf("%s\t%s\t%s\n", id, a.Balance, faction)
	}
}

func compactCmd(args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	keepDays := fs.Int("keep_days", 30, "keep backup copies newer than this many days")
	_ = fs.Parse(args)

	cutoff := time.Now().UTC().AddDate(0, 0, -*keepDays)
	bundle, n, err := archive.CompactBackups(
		filepath.Join(*dataDir, "backups"),
		filepath.Join(*dataDir, "archives"),
		cutoff,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compact:", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Println("nothing to compact")
		return
	}
	fmt.Printf("bundled %d backup(s) into %s\n", n, bundle)
}
