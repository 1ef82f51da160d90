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
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	persistlog "rewind.dev/internal/persistence/log"
	"rewind.dev/internal/sim/arena"
	"rewind.dev/internal/sim/tick"
	"rewind.dev/internal/sim/tuning"
	"rewind.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite frame index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	runID := newRunID(time.Now())
	runDir := filepath.Join(*dataDir, "runs", runID)
	if err := tuning.Write(filepath.Join(runDir, "tuning.yaml"), tune); err != nil {
		logger.Fatalf("write run tuning: %v", err)
	}

	journal := persistlog.NewFrameLogger(runDir)
	defer journal.Close()

	// Optional read model; the journal stays authoritative.
	idx, err := openRuntimeIndex(runDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertRun(runID, tune); err != nil {
			logger.Printf("index backend: upsert run: %v", err)
		}
	}

	eng, err := arena.NewEngine(arena.Config{
		Capacity:    tune.RollbackFrames,
		Params:      arena.Params{Width: tune.Arena.Width, Height: tune.Arena.Height, Speed: tune.Arena.Speed},
		MaxParallel: tune.MaxParallel,
		Logger:      log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	step := time.Second / time.Duration(tune.TickRateHz)
	drv, err := tick.NewDriver(tick.Config{
		Engine:    eng,
		Criteria:  tick.NewFixedTimestep(tune.TickRateHz, tune.MaxCatchupFrames),
		Interval:  step / 4,
		QueueSize: tune.InputQueue,
		Sinks:     []tick.Sink{journal},
		Logger:    log.New(os.Stdout, "[tick] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("driver: %v", err)
	}
	if idx != nil {
		drv.AddSink(idx)
	}

	wsSrv, err := ws.NewServer(ws.Config{Driver: drv, TickRateHz: tune.TickRateHz, Logger: logger})
	if err != nil {
		logger.Fatalf("ws: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		if err := drv.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("driver stopped: %v", err)
			cancel()
		}
	}()

	mux := buildMux(runtimeState{
		runID:   runID,
		driver:  drv,
		journal: journal,
		index:   idx,
		logger:  logger,
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

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

	logger.Printf("run %s: rollback_frames=%d tick_rate_hz=%d dir=%s", runID, tune.RollbackFrames, tune.TickRateHz, runDir)
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-driverDone
	logger.Printf("stopped at frame %d", drv.Newest())
}

func newRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
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
