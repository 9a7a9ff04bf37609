// replay reconstructs account balances from the audit trail and checks
// them against the canonical snapshot. All money enters through mint, so
// replaying every successful mint and pay from an empty book must land
// exactly on the snapshot. Drift means a lost or hand-edited file.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"commoncoin.gg/internal/ledger"
	"commoncoin.gg/internal/money"
	"commoncoin.gg/internal/persistence/snapshot"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		account = flag.String("account", "", "print this account's command history while replaying")
	)
	flag.Parse()

	files, err := auditFiles(filepath.Join(*dataDir, "audit"))
	if err != nil {
		fatalf("list audit files: %v", err)
	}
	if len(files) == 0 {
		fatalf("no audit files under %s", filepath.Join(*dataDir, "audit"))
	}

	balances := map[string]money.Money{}
	var entries, commands, failures int
	for _, path := range files {
		n, c, f, err := replayFile(path, balances, *account)
		if err != nil {
			fatalf("%s: %v", path, err)
		}
		entries += n
		commands += c
		failures += f
	}
	fmt.Printf("replayed %d entries (%d commands, %d failed) from %d files\n",
		entries, commands, failures, len(files))

	doc, err := snapshot.Read(filepath.Join(*dataDir, "accounts.json"))
	if err != nil {
		fatalf("read snapshot: %v", err)
	}

	drift := 0
	ids := map[string]bool{}
	for id := range balances {
		ids[id] = true
	}
	for id := range doc.Accounts {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	for _, id := range sorted {
		replayed := balances[id]
		snapped := doc.Accounts[id].Balance
		if replayed != snapped {
			drift++
			fmt.Printf("DRIFT %s: replayed %s, snapshot %s\n", id, replayed, snapped)
		}
	}
	if drift > 0 {
		fmt.Printf("%d account(s) drifted\n", drift)
		os.Exit(1)
	}
	fmt.Printf("snapshot matches the audit trail (%d accounts)\n", len(doc.Accounts))
}

func auditFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl.zst") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	// Hourly names sort chronologically.
	sort.Strings(out)
	return out, nil
}

func replayFile(path string, balances map[string]money.Money, watch string) (entries, commands, failures int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, 0, 0, err
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e ledger.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return entries, commands, failures, fmt.Errorf("bad entry: %w", err)
		}
		entries++
		if e.Kind != ledger.AuditCommand {
			continue
		}
		commands++
		if !e.OK {
			failures++
		}
		if watch != "" && (e.Actor == watch || e.Target == watch) {
			fmt.Printf("%s %s actor=%s target=%s amount=%s ok=%t code=%s\n",
				e.Time, e.Command, e.Actor, e.Target, e.Amount, e.OK, e.Code)
		}
		if !e.OK {
			continue
		}
		if err := apply(balances, e); err != nil {
			return entries, commands, failures, fmt.Errorf("apply %s at %s: %w", e.Command, e.Time, err)
		}
	}
	return entries, commands, failures, sc.Err()
}

func apply(balances map[string]money.Money, e ledger.AuditEntry) error {
	switch e.Command {
	case ledger.CmdMint:
		amount, err := parseAmount(e.Amount)
		if err != nil {
			return err
		}
		recipient := e.Target
		if recipient == "" {
			recipient = e.Actor
		}
		balances[recipient] = balances[recipient].Add(amount)
	case ledger.CmdPay:
		amount, err := parseAmount(e.Amount)
		if err != nil {
			return err
		}
		balances[e.Actor] = balances[e.Actor].Sub(amount)
		balances[e.Target] = balances[e.Target].Add(amount)
	}
	return nil
}

func parseAmount(s string) (money.Money, error) {
	raw, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	return money.Normalize(raw)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
