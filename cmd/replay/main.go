package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	persistlog "rewind.dev/internal/persistence/log"
	"rewind.dev/internal/sim/arena"
	"rewind.dev/internal/sim/rollback"
	"rewind.dev/internal/sim/tick"
	"rewind.dev/internal/sim/tuning"
)

func main() {
	var (
		runDir     = flag.String("run", "", "run directory (data/runs/<run id>)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <run>/tuning.yaml)")
		toFrame    = flag.Uint64("to_frame", 0, "stop after this frame (inclusive, optional)")
		verbose    = flag.Bool("v", false, "log engine output")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*runDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "[replay] ", log.LstdFlags|log.Lmicroseconds)
	}
	sum, err := replayRun(*runDir, tune, *toFrame, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d frames rewinds=%d last=%d digest=%s\n", sum.Checked, sum.Rewinds, sum.Last, sum.Digest)
}

type summary struct {
	Checked uint64
	Rewinds uint64
	Last    uint64
	Digest  string
}

var errStop = errors.New("stop")

// replayRun rebuilds the arena from tune and re-applies every journaled
// change, checking each frame's digest against the journal.
func replayRun(runDir string, tune tuning.Tuning, toFrame uint64, logger *log.Logger) (summary, error) {
	var sum summary
	eng, err := arena.NewEngine(arena.Config{
		Capacity:    tune.RollbackFrames,
		Params:      arena.Params{Width: tune.Arena.Width, Height: tune.Arena.Height, Speed: tune.Arena.Speed},
		MaxParallel: tune.MaxParallel,
		Logger:      logger,
	})
	if err != nil {
		return sum, err
	}
	drv, err := tick.NewDriver(tick.Config{Engine: eng, Logger: logger})
	if err != nil {
		return sum, err
	}

	err = persistlog.ReadFrames(runDir, func(want tick.FrameRecord) error {
		if toFrame != 0 && want.Frame > toFrame {
			return errStop
		}
		reqs := make([]tick.ChangeRequest, 0, len(want.Changes))
		for _, rc := range want.Changes {
			c, err := arena.DecodeChange(rc)
			if err != nil {
				return fmt.Errorf("frame %d: %w", want.Frame, err)
			}
			req, err := arena.Request(rollback.Frame(rc.Frame), c, nil)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		}
		got, err := drv.StepOnce(reqs)
		if err != nil {
			return fmt.Errorf("frame %d: %w", want.Frame, err)
		}
		if got.Frame != want.Frame {
			return fmt.Errorf("frame mismatch: stepped=%d journal=%d", got.Frame, want.Frame)
		}
		if len(got.Changes) != len(want.Changes) {
			return fmt.Errorf("frame %d: %d of %d changes accepted", want.Frame, len(got.Changes), len(want.Changes))
		}
		if got.Rewound != want.Rewound || got.RewoundTo != want.RewoundTo {
			return fmt.Errorf("frame %d: rewind mismatch: got=%v/%d want=%v/%d", want.Frame, got.Rewound, got.RewoundTo, want.Rewound, want.RewoundTo)
		}
		if got.Digest != want.Digest {
			return fmt.Errorf("digest mismatch at frame %d: got=%s want=%s", want.Frame, got.Digest, want.Digest)
		}
		sum.Checked++
		if got.Rewound {
			sum.Rewinds++
		}
		sum.Last, sum.Digest = got.Frame, got.Digest
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return sum, err
	}
	return sum, nil
}
