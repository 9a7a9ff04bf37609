package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"commoncoin.gg/internal/money"
	"commoncoin.gg/internal/protocol"
)

// Canonical command names. The gateway may deliver any of the registered
// aliases; the processor resolves them before dispatch.
const (
	CmdWhoami             = "whoami"
	CmdBalance            = "balance"
	CmdPay                = "pay"
	CmdMint               = "mint"
	CmdSetFaction         = "setfaction"
	CmdLeaderboard        = "leaderboard"
	CmdFactionLeaderboard = "factionleaderboard"
	CmdEconomyTotal       = "economytotal"
	CmdBackup             = "backup"
	CmdTerminate          = "terminate"
	CmdInvite             = "invite"
)

var aliases = map[string]string{
	"whoami":             CmdWhoami,
	"bal":                CmdBalance,
	"balance":            CmdBalance,
	"pay":                CmdPay,
	"transfer":           CmdPay,
	"mint":               CmdMint,
	"setfaction":         CmdSetFaction,
	"joinfaction":        CmdSetFaction,
	"baltop":             CmdLeaderboard,
	"top":                CmdLeaderboard,
	"leaderboard":        CmdLeaderboard,
	"fbaltop":            CmdFactionLeaderboard,
	"ftop":               CmdFactionLeaderboard,
	"fleaderboard":       CmdFactionLeaderboard,
	"factionleaderboard": CmdFactionLeaderboard,
	"eco":                CmdEconomyTotal,
	"economy":            CmdEconomyTotal,
	"economytotal":       CmdEconomyTotal,
	"backup":             CmdBackup,
	"exit":               CmdTerminate,
	"terminate":          CmdTerminate,
	"invite":             CmdInvite,
}

// Invocation is a validated command record as delivered by the gateway.
// The processor never sees raw request payloads.
type Invocation struct {
	Command    string
	Actor      string
	ActorName  string
	Target     string
	TargetName string
	Amount     float64
	Reason     string
	Faction    string
}

// Reply is the plain-data answer rendered by the gateway. Private replies
// should only be shown to the invoking account.
type Reply struct {
	Headline string
	Body     string
	Private  bool
}

type Result struct {
	Reply     Reply
	OK        bool
	Code      string // protocol error code when !OK
	Terminate bool
}

// ProcessorConfig carries the validation knobs. Factions maps tag to
// display name; Privileged is the mint/backup/terminate allow-list.
type ProcessorConfig struct {
	SystemAccount     string
	Privileged        map[string]bool
	Factions          map[string]string
	ReasonMinLen      int
	ReasonMaxLen      int
	LeaderboardPlaces int
	AcquireTimeout    time.Duration
	InviteURL         string
}

// Processor executes one command at a time against the Book under the
// Gate: acquire, read, validate, mutate, commit, release, then emit the
// reply and audit entries.
type Processor struct {
	book  *Book
	gate  *Gate
	cfg   ProcessorConfig
	audit AuditSink
	log   *log.Logger

	commands atomic.Uint64
}

func NewProcessor(book *Book, gate *Gate, cfg ProcessorConfig, audit AuditSink, logger *log.Logger) *Processor {
	if cfg.LeaderboardPlaces <= 0 {
		cfg.LeaderboardPlaces = 5
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	return &Processor{book: book, gate: gate, cfg: cfg, audit: audit, log: logger}
}

// CommandsTotal reports executed commands (metrics).
func (p *Processor) CommandsTotal() uint64 { return p.commands.Load() }

// Execute runs one invocation to completion. Validation failures resolve
// into failure replies; only the reply tells the caller what went wrong.
// Mutation and commit happen strictly inside the gated region; audit
// writes happen after release.
func (p *Processor) Execute(ctx context.Context, inv Invocation) Result {
	p.commands.Add(1)
	raw := strings.ToLower(strings.TrimSpace(inv.Command))
	cmd, ok := aliases[raw]
	if !ok {
		res := fail(protocol.ErrProtoBadRequest, "Unknown command", fmt.Sprintf("Command %q is not registered.", inv.Command))
		p.emit(raw, inv, res, nil)
		return res
	}
	inv.Actor = strings.TrimSpace(inv.Actor)
	inv.Target = strings.TrimSpace(inv.Target)

	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	if err := p.gate.Acquire(actx); err != nil {
		res := fail(protocol.ErrBusy, "Ledger busy", "The ledger is busy; try again in a moment.")
		p.emit(cmd, inv, res, nil)
		return res
	}
	res, created := p.run(cmd, inv)
	p.gate.Release()

	p.emit(cmd, inv, res, created)
	return res
}

// run executes under the gate and returns the result plus any account ids
// implicitly created along the way.
func (p *Processor) run(cmd string, inv Invocation) (Result, []string) {
	switch cmd {
	case CmdWhoami:
		return ok(Reply{Body: fmt.Sprintf("Your account id is `%s`.", inv.Actor), Private: true}), nil
	case CmdBalance:
		return p.runBalance(inv)
	case CmdPay:
		return p.runPay(inv)
	case CmdMint:
		return p.runMint(inv)
	case CmdSetFaction:
		return p.runSetFaction(inv)
	case CmdLeaderboard:
		return p.runLeaderboard(), nil
	case CmdFactionLeaderboard:
		return p.runFactionLeaderboard(), nil
	case CmdEconomyTotal:
		total := p.book.Total()
		return ok(Reply{Headline: "Economy", Body: fmt.Sprintf("Total money in circulation: %s", total)}), nil
	case CmdBackup:
		return p.runBackup(inv)
	case CmdTerminate:
		return p.runTerminate(inv)
	case CmdInvite:
		return ok(Reply{Body: p.cfg.InviteURL, Private: true}), nil
	}
	return fail(protocol.ErrProtoBadRequest, "Unknown command", "Command is not registered."), nil
}

func (p *Processor) runBalance(inv Invocation) (Result, []string) {
	target := inv.Target
	if target == "" {
		target = inv.Actor
	}
	bal, createdNow := p.book.GetOrCreate(target)
	if err := p.book.Commit(); err != nil {
		return p.storageFail(err), createdList(createdNow, target)
	}
	whose := "Your"
	if target != inv.Actor {
		whose = fmt.Sprintf("`%s`'s", displayName(inv.TargetName, target))
	}
	return ok(Reply{Body: fmt.Sprintf("%s balance: %s", whose, bal)}), createdList(createdNow, target)
}

func (p *Processor) runPay(inv Invocation) (Result, []string) {
	amount, err := money.Normalize(inv.Amount)
	if err != nil {
		return fail(protocol.ErrInvalidAmount, "Invalid amount", "That amount is not a finite number."), nil
	}
	if amount <= 0 {
		return fail(protocol.ErrNonPositiveAmount, "Invalid amount",
			fmt.Sprintf("Nice try, but %s is not a positive amount.", amount)), nil
	}
	if inv.Target == "" || inv.Target == p.cfg.SystemAccount {
		return fail(protocol.ErrInvalidRecipient, "Invalid recipient", "You can't send money to the ledger itself."), nil
	}
	if inv.Target == inv.Actor {
		return fail(protocol.ErrInvalidRecipient, "Invalid recipient", "You can't pay yourself."), nil
	}
	if n := utf8.RuneCountInString(inv.Reason); n < p.cfg.ReasonMinLen {
		return fail(protocol.ErrReasonTooShort, "Reason too short",
			fmt.Sprintf("Give a real reason (at least %d characters).", p.cfg.ReasonMinLen)), nil
	} else if n > p.cfg.ReasonMaxLen {
		return fail(protocol.ErrReasonTooLong, "Reason too long",
			fmt.Sprintf("Keep the reason under %d characters.", p.cfg.ReasonMaxLen)), nil
	}

	var created []string
	senderBal, senderNew := p.book.GetOrCreate(inv.Actor)
	created = appendCreated(created, senderNew, inv.Actor)
	recipientBal, recipientNew := p.book.GetOrCreate(inv.Target)
	created = appendCreated(created, recipientNew, inv.Target)

	newSenderBal := senderBal.Sub(amount)
	if newSenderBal.Negative() {
		return fail(protocol.ErrInsufficientFunds, "Insufficient funds",
			fmt.Sprintf("%s - %s = %s! Going into debt is not allowed.", senderBal, amount, newSenderBal)), created
	}

	// All checks passed: the transaction is all-or-nothing from here.
	if err := p.book.SetBalance(inv.Actor, newSenderBal); err != nil {
		return p.internalFail(err), created
	}
	if err := p.book.SetBalance(inv.Target, recipientBal.Add(amount)); err != nil {
		return p.internalFail(err), created
	}
	if err := p.book.Commit(); err != nil {
		return p.storageFail(err), created
	}
	return ok(Reply{
		Headline: "Payment sent",
		Body: fmt.Sprintf("Transferred %s from `%s` to `%s`. You now have %s.",
			amount, displayName(inv.ActorName, inv.Actor), displayName(inv.TargetName, inv.Target), newSenderBal),
	}), created
}

func (p *Processor) runMint(inv Invocation) (Result, []string) {
	if !p.cfg.Privileged[inv.Actor] {
		return fail(protocol.ErrNotAuthorized, "Not authorized", "no lol :)"), nil
	}
	amount, err := money.Normalize(inv.Amount)
	if err != nil {
		return fail(protocol.ErrInvalidAmount, "Invalid amount", "That amount is not a finite number."), nil
	}
	if amount <= 0 {
		return fail(protocol.ErrNonPositiveAmount, "Invalid amount", "Minted amounts must be positive."), nil
	}
	recipient := inv.Target
	if recipient == "" {
		recipient = inv.Actor
	}
	bal, createdNow := p.book.GetOrCreate(recipient)
	if err := p.book.SetBalance(recipient, bal.Add(amount)); err != nil {
		return p.internalFail(err), createdList(createdNow, recipient)
	}
	if err := p.book.Commit(); err != nil {
		return p.storageFail(err), createdList(createdNow, recipient)
	}
	return ok(Reply{
		Headline: "Minted",
		Body:     fmt.Sprintf("Minted %s for `%s`.", amount, displayName(inv.TargetName, recipient)),
	}), createdList(createdNow, recipient)
}

func (p *Processor) runSetFaction(inv Invocation) (Result, []string) {
	name, known := p.cfg.Factions[inv.Faction]
	if !known {
		return fail(protocol.ErrUnknownFaction, "Unknown faction",
			fmt.Sprintf("%q is not a registered faction.", inv.Faction)), nil
	}
	_, createdNow := p.book.GetOrCreate(inv.Actor)
	if err := p.book.SetFaction(inv.Actor, inv.Faction); err != nil {
		return p.internalFail(err), createdList(createdNow, inv.Actor)
	}
	if err := p.book.Commit(); err != nil {
		return p.storageFail(err), createdList(createdNow, inv.Actor)
	}
	return ok(Reply{Body: fmt.Sprintf("Your money now counts toward %s.", name)}), createdList(createdNow, inv.Actor)
}

func (p *Processor) runLeaderboard() Result {
	entries := p.book.Top(p.cfg.LeaderboardPlaces)
	var sb strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s: `%s`\n", i+1, e.Balance, e.ID)
	}
	if len(entries) == 0 {
		sb.WriteString("Nobody has any money yet.\n")
	}
	return ok(Reply{Headline: "Baltop leaderboard", Body: strings.TrimRight(sb.String(), "\n")})
}

func (p *Processor) runFactionLeaderboard() Result {
	totals := p.book.FactionTotals()
	if len(totals) > p.cfg.LeaderboardPlaces {
		totals = totals[:p.cfg.LeaderboardPlaces]
	}
	economy := p.book.Total()
	var sb strings.Builder
	for i, ft := range totals {
		name := p.cfg.Factions[ft.Tag]
		if name == "" {
			if ft.Tag == UnaffiliatedTag {
				name = "Unaffiliated"
			} else {
				name = ft.Tag
			}
		}
		fmt.Fprintf(&sb, "%d. %s (%s%%): %s\n", i+1, ft.Total, money.Percent(ft.Total, economy), name)
	}
	if len(totals) == 0 {
		sb.WriteString("Nobody has any money yet.\n")
	}
	return ok(Reply{Headline: "Faction leaderboard", Body: strings.TrimRight(sb.String(), "\n")})
}

func (p *Processor) runBackup(inv Invocation) (Result, []string) {
	if !p.cfg.Privileged[inv.Actor] {
		return fail(protocol.ErrNotAuthorized, "Not authorized", "Really?"), nil
	}
	path, err := p.book.BackupIfNeeded(time.Now())
	if err != nil {
		return p.storageFail(err), nil
	}
	if path == "" {
		return ok(Reply{Body: "Nothing changed since the last backup.", Private: true}), nil
	}
	return ok(Reply{Body: fmt.Sprintf("Backup created: `%s`", path), Private: true}), nil
}

func (p *Processor) runTerminate(inv Invocation) (Result, []string) {
	if !p.cfg.Privileged[inv.Actor] {
		return fail(protocol.ErrNotAuthorized, "Not authorized", "I'd rather not, to be honest."), nil
	}
	if err := p.book.Commit(); err != nil {
		return p.storageFail(err), nil
	}
	res := ok(Reply{Body: "Shutting down. State committed."})
	res.Terminate = true
	return res, nil
}

func (p *Processor) emit(cmd string, inv Invocation, res Result, created []string) {
	for _, id := range created {
		p.writeAudit(AuditEntry{
			Time:   auditNow(),
			Kind:   AuditAccountCreated,
			Actor:  id,
			OK:     true,
			Detail: "added with balance of 0.00",
		})
	}
	entry := AuditEntry{
		Time:      auditNow(),
		Kind:      AuditCommand,
		Command:   cmd,
		Actor:     inv.Actor,
		ActorName: inv.ActorName,
		Target:    inv.Target,
		Reason:    inv.Reason,
		OK:        res.OK,
		Code:      res.Code,
		Detail:    res.Reply.Headline,
	}
	if cmd == CmdPay || cmd == CmdMint {
		if m, err := money.Normalize(inv.Amount); err == nil {
			entry.Amount = m.String()
		}
	}
	p.writeAudit(entry)
}

func (p *Processor) writeAudit(e AuditEntry) {
	if p.audit == nil {
		return
	}
	if err := p.audit.WriteAudit(e); err != nil {
		p.log.Printf("audit write: %v", err)
	}
}

func (p *Processor) storageFail(err error) Result {
	p.log.Printf("commit failed: %v", err)
	return fail(protocol.ErrStorageWrite, "Storage failure", "The ledger could not be written; the command was not applied durably. Try again.")
}

func (p *Processor) internalFail(err error) Result {
	p.log.Printf("internal: %v", err)
	return fail(protocol.ErrInternal, "Internal error", "Something went wrong executing the command.")
}

func ok(r Reply) Result { return Result{Reply: r, OK: true} }

func fail(code, headline, body string) Result {
	return Result{Reply: Reply{Headline: headline, Body: body, Private: true}, Code: code}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func createdList(created bool, id string) []string {
	if !created {
		return nil
	}
	return []string{id}
}

func appendCreated(list []string, created bool, id string) []string {
	if created {
		return append(list, id)
	}
	return list
}
