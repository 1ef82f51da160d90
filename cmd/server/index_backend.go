package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rewind.dev/internal/persistence/indexdb"
	"rewind.dev/internal/sim/tick"
	"rewind.dev/internal/sim/tuning"
)

type runtimeIndex interface {
	tick.Sink
	Close() error
	UpsertRun(runID string, tune tuning.Tuning) error
	Stats() indexdb.Stats
}

func openRuntimeIndex(runDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("REWIND_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(runDir, "index", "frames.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported REWIND_INDEX_BACKEND=%q", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
