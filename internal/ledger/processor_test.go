package ledger

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"commoncoin.gg/internal/money"
	"commoncoin.gg/internal/protocol"
)

type memorySink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *memorySink) WriteAudit(e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memorySink) byKind(kind string) []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for _, e := range s.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

const admin = "349274318196441088"

func newTestProcessor(t *testing.T) (*Processor, *Book, *memorySink) {
	t.Helper()
	book := Open(t.TempDir(), testLogger())
	sink := &memorySink{}
	proc := NewProcessor(book, NewGate(), ProcessorConfig{
		SystemAccount:     "ledger",
		Privileged:        map[string]bool{admin: true},
		Factions:          map[string]string{"astral": "Astral Vanguard", "gods": "Gods"},
		ReasonMinLen:      16,
		ReasonMaxLen:      1024,
		LeaderboardPlaces: 5,
		AcquireTimeout:    time.Second,
		InviteURL:         "https://example.com/invite",
	}, sink, testLogger())
	return proc, book, sink
}

func exec(t *testing.T, p *Processor, inv Invocation) Result {
	t.Helper()
	return p.Execute(context.Background(), inv)
}

func mustBalance(t *testing.T, b *Book, id string, want money.Money) {
	t.Helper()
	bal, err := b.Balance(id)
	if err != nil {
		t.Fatalf("balance %s: %v", id, err)
	}
	if bal != want {
		t.Fatalf("balance %s = %v, want %v", id, bal, want)
	}
}

func TestScenario_MintPayInsufficientSelf(t *testing.T) {
	p, book, _ := newTestProcessor(t)

	// Fresh account reads as zero.
	res := exec(t, p, Invocation{Command: "balance", Actor: "A"})
	if !res.OK || !strings.Contains(res.Reply.Body, "0.00") {
		t.Fatalf("balance reply = %+v", res)
	}

	// Privileged mint of 100 to A.
	res = exec(t, p, Invocation{Command: "mint", Actor: admin, Target: "A", Amount: 100})
	if !res.OK {
		t.Fatalf("mint failed: %+v", res)
	}
	mustBalance(t, book, "A", money.FromMinor(10000))

	// Valid transfer conserves money.
	res = exec(t, p, Invocation{Command: "pay", Actor: "A", Target: "B", Amount: 30.5, Reason: "twenty char reasons ok"})
	if !res.OK {
		t.Fatalf("pay failed: %+v", res)
	}
	mustBalance(t, book, "A", money.FromMinor(6950))
	mustBalance(t, book, "B", money.FromMinor(3050))

	// Overdraft leaves the store unchanged.
	res = exec(t, p, Invocation{Command: "pay", Actor: "A", Target: "B", Amount: 1000, Reason: "trying to overdraw here"})
	if res.OK || res.Code != protocol.ErrInsufficientFunds {
		t.Fatalf("overdraft = %+v", res)
	}
	mustBalance(t, book, "A", money.FromMinor(6950))
	mustBalance(t, book, "B", money.FromMinor(3050))

	// Paying yourself is rejected.
	res = exec(t, p, Invocation{Command: "pay", Actor: "A", Target: "A", Amount: 1, Reason: "moving my own money"})
	if res.OK || res.Code != protocol.ErrInvalidRecipient {
		t.Fatalf("self-pay = %+v", res)
	}
}

func TestPay_Validation(t *testing.T) {
	cases := []struct {
		name string
		inv  Invocation
		code string
	}{
		{"zero amount", Invocation{Command: "pay", Actor: "A", Target: "B", Amount: 0, Reason: "a long enough reason"}, protocol.ErrNonPositiveAmount},
		{"negative amount", Invocation{Command: "pay", Actor: "A", Target: "B", Amount: -5, Reason: "a long enough reason"}, protocol.ErrNonPositiveAmount},
		{"system recipient", Invocation{Command: "pay", Actor: "A", Target: "ledger", Amount: 5, Reason: "a long enough reason"}, protocol.ErrInvalidRecipient},
		{"short reason", Invocation{Command: "pay", Actor: "A", Target: "B", Amount: 5, Reason: "too short"}, protocol.ErrReasonTooShort},
		{"long reason", Invocation{Command: "pay", Actor: "A", Target: "B", Amount: 5, Reason: strings.Repeat("x", 1025)}, protocol.ErrReasonTooLong},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, book, _ := newTestProcessor(t)
			res := exec(t, p, c.inv)
			if res.OK || res.Code != c.code {
				t.Fatalf("result = %+v, want code %s", res, c.code)
			}
			// Validation failures before the balance reads leave no accounts behind.
			if c.code != protocol.ErrReasonTooShort && c.code != protocol.ErrReasonTooLong && book.Len() != 0 {
				t.Fatalf("accounts created on %s: %d", c.name, book.Len())
			}
		})
	}
}

func TestMint_Authorization(t *testing.T) {
	p, book, _ := newTestProcessor(t)

	res := exec(t, p, Invocation{Command: "mint", Actor: "A", Target: "A", Amount: 100})
	if res.OK || res.Code != protocol.ErrNotAuthorized {
		t.Fatalf("unauthorized mint = %+v", res)
	}
	// Short-circuits before any balance read.
	if book.Len() != 0 {
		t.Fatalf("unauthorized mint touched the store")
	}

	res = exec(t, p, Invocation{Command: "mint", Actor: admin, Target: "A", Amount: -5})
	if res.OK || res.Code != protocol.ErrNonPositiveAmount {
		t.Fatalf("negative mint = %+v", res)
	}
}

func TestSetFaction(t *testing.T) {
	p, book, _ := newTestProcessor(t)

	res := exec(t, p, Invocation{Command: "setfaction", Actor: "A", Faction: "atlantis"})
	if res.OK || res.Code != protocol.ErrUnknownFaction {
		t.Fatalf("unknown faction = %+v", res)
	}

	res = exec(t, p, Invocation{Command: "joinfaction", Actor: "A", Faction: "astral"})
	if !res.OK {
		t.Fatalf("setfaction = %+v", res)
	}
	tag, err := book.Faction("A")
	if err != nil || tag != "astral" {
		t.Fatalf("faction = (%q, %v)", tag, err)
	}
}

func TestLeaderboards(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	exec(t, p, Invocation{Command: "mint", Actor: admin, Target: "A", Amount: 60})
	exec(t, p, Invocation{Command: "mint", Actor: admin, Target: "B", Amount: 40})
	exec(t, p, Invocation{Command: "setfaction", Actor: "A", Faction: "astral"})

	res := exec(t, p, Invocation{Command: "baltop", Actor: "A"})
	if !res.OK {
		t.Fatalf("leaderboard = %+v", res)
	}
	lines := strings.Split(res.Reply.Body, "\n")
	if !strings.Contains(lines[0], "60.00") || !strings.Contains(lines[0], "A") {
		t.Fatalf("leaderboard first line = %q", lines[0])
	}

	res = exec(t, p, Invocation{Command: "ftop", Actor: "A"})
	if !res.OK {
		t.Fatalf("faction leaderboard = %+v", res)
	}
	if !strings.Contains(res.Reply.Body, "Astral Vanguard") || !strings.Contains(res.Reply.Body, "60.00%") {
		t.Fatalf("faction leaderboard body = %q", res.Reply.Body)
	}
	if !strings.Contains(res.Reply.Body, "Unaffiliated") || !strings.Contains(res.Reply.Body, "40.00%") {
		t.Fatalf("faction leaderboard body = %q", res.Reply.Body)
	}

	res = exec(t, p, Invocation{Command: "economy", Actor: "A"})
	if !res.OK || !strings.Contains(res.Reply.Body, "100.00") {
		t.Fatalf("economy = %+v", res)
	}
}

func TestBackupCommand(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	res := exec(t, p, Invocation{Command: "backup", Actor: "A"})
	if res.OK || res.Code != protocol.ErrNotAuthorized {
		t.Fatalf("unauthorized backup = %+v", res)
	}

	exec(t, p, Invocation{Command: "mint", Actor: admin, Target: "A", Amount: 10})
	res = exec(t, p, Invocation{Command: "backup", Actor: admin})
	if !res.OK || !strings.Contains(res.Reply.Body, "Backup created") {
		t.Fatalf("backup = %+v", res)
	}

	res = exec(t, p, Invocation{Command: "backup", Actor: admin})
	if !res.OK || !strings.Contains(res.Reply.Body, "Nothing changed") {
		t.Fatalf("repeat backup = %+v", res)
	}
}

func TestTerminate(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	res := exec(t, p, Invocation{Command: "exit", Actor: "A"})
	if res.OK || res.Code != protocol.ErrNotAuthorized || res.Terminate {
		t.Fatalf("unauthorized terminate = %+v", res)
	}

	res = exec(t, p, Invocation{Command: "terminate", Actor: admin})
	if !res.OK || !res.Terminate {
		t.Fatalf("terminate = %+v", res)
	}
}

func TestWhoamiAndInvite(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	res := exec(t, p, Invocation{Command: "whoami", Actor: "A"})
	if !res.OK || !res.Reply.Private || !strings.Contains(res.Reply.Body, "`A`") {
		t.Fatalf("whoami = %+v", res)
	}

	res = exec(t, p, Invocation{Command: "invite", Actor: "A"})
	if !res.OK || res.Reply.Body != "https://example.com/invite" {
		t.Fatalf("invite = %+v", res)
	}
}

func TestUnknownCommand(t *testing.T) {
	p, _, sink := newTestProcessor(t)
	res := exec(t, p, Invocation{Command: "frobnicate", Actor: "A"})
	if res.OK || res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("unknown command = %+v", res)
	}
	if got := len(sink.byKind(AuditCommand)); got != 1 {
		t.Fatalf("audit entries = %d, want 1", got)
	}
}

func TestAudit_OneEntryPerExecution(t *testing.T) {
	p, _, sink := newTestProcessor(t)

	exec(t, p, Invocation{Command: "balance", Actor: "A"})
	exec(t, p, Invocation{Command: "mint", Actor: admin, Target: "A", Amount: 100})
	exec(t, p, Invocation{Command: "pay", Actor: "A", Target: "B", Amount: 1000, Reason: "doomed to overdraw it"})

	cmds := sink.byKind(AuditCommand)
	if len(cmds) != 3 {
		t.Fatalf("command entries = %d, want 3", len(cmds))
	}
	if cmds[2].OK || cmds[2].Code != protocol.ErrInsufficientFunds {
		t.Fatalf("failed pay audit = %+v", cmds[2])
	}
	if cmds[1].Amount != "100.00" {
		t.Fatalf("mint audit amount = %q", cmds[1].Amount)
	}

	// One creation event for A (balance), none again on mint, one for B (pay).
	created := sink.byKind(AuditAccountCreated)
	if len(created) != 2 {
		t.Fatalf("creation entries = %d, want 2", len(created))
	}
	if created[0].Actor != "A" || created[1].Actor != "B" {
		t.Fatalf("creation order = %s, %s", created[0].Actor, created[1].Actor)
	}
}

func TestBusyGate(t *testing.T) {
	book := Open(t.TempDir(), testLogger())
	gate := NewGate()
	p := NewProcessor(book, gate, ProcessorConfig{
		AcquireTimeout: 20 * time.Millisecond,
	}, nil, testLogger())

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer gate.Release()

	res := exec(t, p, Invocation{Command: "whoami", Actor: "A"})
	if res.OK || res.Code != protocol.ErrBusy {
		t.Fatalf("busy result = %+v", res)
	}
}

func TestSerialization_TwoConcurrentTransfers(t *testing.T) {
	p, book, _ := newTestProcessor(t)
	exec(t, p, Invocation{Command: "mint", Actor: admin, Target: "A", Amount: 100})

	// Both transfers would individually succeed; run together, exactly one
	// must fail once A runs out, and no money may leak.
	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Execute(context.Background(), Invocation{
				Command: "pay", Actor: "A", Target: "B", Amount: 60,
				Reason: "concurrent stress transfer",
			})
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, r := range results {
		if r.OK {
			okCount++
		} else if r.Code != protocol.ErrInsufficientFunds {
			t.Fatalf("unexpected failure: %+v", r)
		}
	}
	if okCount != 1 {
		t.Fatalf("ok transfers = %d, want exactly 1", okCount)
	}
	mustBalance(t, book, "A", money.FromMinor(4000))
	mustBalance(t, book, "B", money.FromMinor(6000))
	if book.Total() != money.FromMinor(10000) {
		t.Fatalf("total = %v, want 100.00", book.Total())
	}
}
