// Command coredb starts the engine with its background maintenance
// workers and blocks until terminated, matching spec §6's exit codes for
// a host CLI: 0 clean, 1 configuration error, 2 I/O error, 3 corruption
// detected, 4 unrecoverable.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coredb/engine/internal/catalog"
	"github.com/coredb/engine/internal/config"
	"github.com/coredb/engine/internal/coreerr"
	"github.com/coredb/engine/internal/epoch"
	"github.com/coredb/engine/internal/executor"
	"github.com/coredb/engine/internal/lockmgr"
	"github.com/coredb/engine/internal/lsm"
	"github.com/coredb/engine/internal/metrics"
	"github.com/coredb/engine/internal/occ"
	"github.com/coredb/engine/internal/orchestration"
	"github.com/coredb/engine/internal/txn"
)

const (
	exitClean         = 0
	exitConfigError   = 1
	exitIOError       = 2
	exitCorruption    = 3
	exitUnrecoverable = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (spec §6); defaults are used if empty")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Printf("config error: %v", err)
			return exitConfigError
		}
		cfg = loaded
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Printf("creating data dir %s: %v", cfg.DataDir, err)
		return exitConfigError
	}

	store, err := lsm.Open(lsm.Config{
		Dir:                 filepath.Join(cfg.DataDir, "lsm"),
		MemtableSizeBytes:   cfg.MemtableSizeBytes,
		L0CompactionTrigger: cfg.L0CompactionTrigger,
		L0SlowdownThreshold: cfg.L0SlowdownThreshold,
		BloomFPRate:         cfg.BloomFPRate,
		Mode:                compactionModeFor(cfg.CompactionMode),
		CompactionInterval:  2 * time.Second,
		TargetWriteAmp:      10.0,
	})
	if err != nil {
		log.Printf("opening storage: %v", err)
		if coreerr.Is(err, coreerr.KindChecksumMismatch) {
			return exitCorruption
		}
		return exitIOError
	}

	epochDomain := epoch.NewDomain()
	locks := lockmgr.New(lockmgr.Config{EscalationThreshold: cfg.LockEscalationThreshold})
	occM := occ.New()
	txns := txn.New(txn.Config{Locks: locks, OCC: occM})
	cat := catalog.New()
	exec := executor.New(cat, txns, store)
	reg := metrics.New(nil, store, occM, locks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sched *orchestration.Scheduler
	orch := orchestration.New(
		orchestration.Stage{
			orchestration.NewComponent("lsm-engine",
				func(ctx context.Context) error { return nil },
				func(ctx context.Context) error { return store.Close() },
			),
		},
		orchestration.Stage{
			orchestration.NewComponent("maintenance-scheduler",
				func(ctx context.Context) error {
					sched = newMaintenanceScheduler(ctx, epochDomain, reg)
					return nil
				},
				func(ctx context.Context) error {
					sched.Stop()
					return nil
				},
			),
		},
	)

	if err := orch.Start(ctx); err != nil {
		log.Printf("starting components: %v", err)
		return exitUnrecoverable
	}

	log.Printf("ready: %d tables registered, executor %T accepting statements", len(cat.ListTables()), exec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		log.Printf("shutdown error: %v", err)
		return exitUnrecoverable
	}
	return exitClean
}

func compactionModeFor(mode config.CompactionMode) lsm.CompactionMode {
	switch mode {
	case config.Leveled:
		return lsm.ModeLeveled
	case config.Tiered:
		return lsm.ModeTiered
	default:
		return lsm.ModeHybrid
	}
}

func newMaintenanceScheduler(ctx context.Context, epochDomain *epoch.Domain, reg *metrics.Registry) *orchestration.Scheduler {
	sched := orchestration.NewScheduler(ctx)
	_ = sched.AddTick(orchestration.Tick{
		Name: "epoch-gc",
		Spec: "@every 1s",
		Run: func(ctx context.Context) {
			for epochDomain.TryAdvance() {
			}
		},
	})
	_ = sched.AddTick(orchestration.Tick{
		Name: "metrics-log",
		Spec: "@every 30s",
		Run: func(ctx context.Context) {
			snap := reg.Snapshot()
			log.Printf("metrics: lsm puts=%d gets=%d l0tables=%d lock.conflicts=%d",
				snap.LSM.Puts, snap.LSM.Gets, snap.LSM.L0Tables, snap.Lock.Conflicts)
		},
	})
	sched.Start()
	return sched
}
