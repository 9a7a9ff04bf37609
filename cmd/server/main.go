package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"commoncoin.gg/internal/config"
	"commoncoin.gg/internal/ledger"
	"commoncoin.gg/internal/money"
	"commoncoin.gg/internal/persistence/auditlog"
	"commoncoin.gg/internal/persistence/indexdb"
	"commoncoin.gg/internal/persistence/r2s3"
	"commoncoin.gg/internal/protocol"
	"commoncoin.gg/internal/transport/ws"
)

type envOverrides struct {
	Addr       string `env:"LEDGER_ADDR"`
	DataDir    string `env:"LEDGER_DATA_DIR"`
	ConfigPath string `env:"LEDGER_CONFIG"`
	DisableDB  bool   `env:"LEDGER_DISABLE_DB"`

	// Off-site mirroring is opt-in; credentials stay out of ledger.yaml.
	R2Endpoint  string `env:"LEDGER_R2_ENDPOINT"`
	R2Bucket    string `env:"LEDGER_R2_BUCKET"`
	R2AccessKey string `env:"LEDGER_R2_ACCESS_KEY_ID"`
	R2SecretKey string `env:"LEDGER_R2_SECRET_ACCESS_KEY"`
	R2Prefix    string `env:"LEDGER_R2_PREFIX"`
}

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configPath = flag.String("config", "./configs/ledger.yaml", "path to ledger.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite audit index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		logger.Fatalf("parse env: %v", err)
	}
	if ov.Addr != "" {
		*addr = ov.Addr
	}
	if ov.DataDir != "" {
		*dataDir = ov.DataDir
	}
	if ov.ConfigPath != "" {
		*configPath = ov.ConfigPath
	}
	if ov.DisableDB {
		*disableDB = true
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("config not found (%s); using defaults", *configPath)
			cfg = config.Defaults()
		} else {
			logger.Fatalf("load config: %v", err)
		}
	}

	book := ledger.Open(*dataDir, logger)
	gate := ledger.NewGate()

	auditLog := auditlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "ledger.sqlite"))
		if err != nil {
			logger.Fatalf("open audit index: %v", err)
		}
		defer idx.Close()
	}

	var mirror *r2s3.Mirror
	if ov.R2Endpoint != "" {
		client, err := r2s3.New(ov.R2Endpoint, ov.R2Bucket, ov.R2AccessKey, ov.R2SecretKey)
		if err != nil {
			logger.Fatalf("mirror client: %v", err)
		}
		mirror = r2s3.NewMirror(client, *dataDir, ov.R2Prefix, logger)
		defer mirror.Close()
		logger.Printf("mirroring backups to bucket %s", ov.R2Bucket)
	}

	proc := ledger.NewProcessor(book, gate, ledger.ProcessorConfig{
		SystemAccount:     cfg.SystemAccountID,
		Privileged:        cfg.PrivilegedSet(),
		Factions:          cfg.FactionMap(),
		ReasonMinLen:      cfg.ReasonMinLen,
		ReasonMaxLen:      cfg.ReasonMaxLen,
		LeaderboardPlaces: cfg.LeaderboardPlaces,
		AcquireTimeout:    cfg.GateAcquireTimeout(),
		InviteURL:         cfg.InviteURL,
	}, multiAuditLogger{a: auditLog, b: idx}, logger)

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("compile wire schemas: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var terminateOnce sync.Once
	onTerminate := func() {
		terminateOnce.Do(func() {
			logger.Printf("terminate command accepted; shutting down")
			cancel()
		})
	}

	// Timer-driven backups share the gate with command executions.
	go func() {
		ticker := time.NewTicker(cfg.BackupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runBackup(ctx, gate, book, idx, mirror, logger)
			}
		}
	}()

	tags := make([]string, 0, len(cfg.Factions))
	for _, f := range cfg.Factions {
		tags = append(tags, f.Tag)
	}
	gateway := ws.NewServer(proc, validator, protocol.LedgerParams{
		Decimals:          money.Decimals,
		ReasonMinLen:      cfg.ReasonMinLen,
		ReasonMaxLen:      cfg.ReasonMaxLen,
		LeaderboardPlaces: cfg.LeaderboardPlaces,
		Factions:          tags,
	}, onTerminate, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(gate, book, proc, mirror))
	mux.HandleFunc("/v1/ws", gateway.Handler(ctx))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Controlled stop: flush any uncommitted state before the loggers close.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := gate.Acquire(flushCtx); err == nil {
		if err := book.Commit(); err != nil {
			logger.Printf("final commit: %v", err)
		}
		gate.Release()
		mirror.Enqueue(filepath.Join(*dataDir, "accounts.json"))
	}
	logger.Printf("stopped")
}

func runBackup(ctx context.Context, gate *ledger.Gate, book *ledger.Book, idx *indexdb.SQLiteIndex, mirror *r2s3.Mirror, logger *log.Logger) {
	actx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := gate.Acquire(actx); err != nil {
		logger.Printf("backup: gate: %v", err)
		return
	}
	path, err := book.BackupIfNeeded(time.Now())
	accounts := book.Len()
	total := book.Total()
	gate.Release()

	if err != nil {
		logger.Printf("backup: %v", err)
		return
	}
	if path == "" {
		return
	}
	logger.Printf("backup created: %s", path)
	if idx != nil {
		idx.RecordBackup(path, accounts, total.Minor())
	}
	mirror.Enqueue(path)
}

func metricsHandler(gate *ledger.Gate, book *ledger.Book, proc *ledger.Processor, mirror *r2s3.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		actx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := gate.Acquire(actx); err != nil {
			http.Error(rw, "ledger busy", http.StatusServiceUnavailable)
			return
		}
		accounts := book.Len()
		totalMinor := book.Total().Minor()
		dirty := 0
		if book.Dirty() {
			dirty = 1
		}
		gate.Release()

		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP commoncoin_accounts Number of ledger accounts.\n")
		fmt.Fprintf(rw, "# TYPE commoncoin_accounts gauge\n")
		fmt.Fprintf(rw, "commoncoin_accounts %d\n", accounts)

		fmt.Fprintf(rw, "# HELP commoncoin_total_minor_units Total money in circulation, in cents.\n")
		fmt.Fprintf(rw, "# TYPE commoncoin_total_minor_units gauge\n")
		fmt.Fprintf(rw, "commoncoin_total_minor_units %d\n", totalMinor)

		fmt.Fprintf(rw, "# HELP commoncoin_ledger_dirty Whether uncommitted mutations exist.\n")
		fmt.Fprintf(rw, "# TYPE commoncoin_ledger_dirty gauge\n")
		fmt.Fprintf(rw, "commoncoin_ledger_dirty %d\n", dirty)

		fmt.Fprintf(rw, "# HELP commoncoin_commands_total Commands executed since start.\n")
		fmt.Fprintf(rw, "# TYPE commoncoin_commands_total counter\n")
		fmt.Fprintf(rw, "commoncoin_commands_total %d\n", proc.CommandsTotal())

		fmt.Fprintf(rw, "# HELP commoncoin_gate_queue_depth Commands waiting on the gate.\n")
		fmt.Fprintf(rw, "# TYPE commoncoin_gate_queue_depth gauge\n")
		fmt.Fprintf(rw, "commoncoin_gate_queue_depth %d\n", gate.QueueLen())

		if mirror != nil {
			st := mirror.Stats()
			fmt.Fprintf(rw, "# HELP commoncoin_mirror_uploads_total Backup files mirrored off-site.\n")
			fmt.Fprintf(rw, "# TYPE commoncoin_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "commoncoin_mirror_uploads_total %d\n", st.UploadSuccessTotal)

			fmt.Fprintf(rw, "# HELP commoncoin_mirror_upload_failures_total Mirror uploads that exhausted retries.\n")
			fmt.Fprintf(rw, "# TYPE commoncoin_mirror_upload_failures_total counter\n")
			fmt.Fprintf(rw, "commoncoin_mirror_upload_failures_total %d\n", st.UploadFailTotal)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiAuditLogger struct {
	a ledger.AuditSink
	b *indexdb.SQLiteIndex
}

func (m multiAuditLogger) WriteAudit(entry ledger.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
