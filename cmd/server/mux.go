package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"

	"rewind.dev/internal/sim/tick"
)

type journalStats interface {
	Lines() uint64
}

type runtimeState struct {
	runID   string
	driver  *tick.Driver
	journal journalStats
	index   runtimeIndex
	logger  *log.Logger
}

func buildMux(st runtimeState) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, st)
	})

	if envBool("REWIND_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints (read-only).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				RunID          string     `json:"run_id"`
				NewestFrame    uint64     `json:"newest_frame"`
				RollbackFrames int        `json:"rollback_frames"`
				Driver         tick.Stats `json:"driver"`
			}{
				RunID:          st.runID,
				NewestFrame:    uint64(st.driver.Newest()),
				RollbackFrames: st.driver.Capacity(),
				Driver:         st.driver.Stats(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else if st.logger != nil {
		st.logger.Printf("admin endpoints disabled (REWIND_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("REWIND_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// writeMetrics emits the minimal Prometheus exposition format.
func writeMetrics(rw http.ResponseWriter, st runtimeState) {
	s := st.driver.Stats()

	fmt.Fprintf(rw, "# HELP rewind_newest_frame Newest simulated frame.\n")
	fmt.Fprintf(rw, "# TYPE rewind_newest_frame gauge\n")
	fmt.Fprintf(rw, "rewind_newest_frame{run=%q} %d\n", st.runID, st.driver.Newest())

	fmt.Fprintf(rw, "# HELP rewind_rollback_frames Rewind window size.\n")
	fmt.Fprintf(rw, "# TYPE rewind_rollback_frames gauge\n")
	fmt.Fprintf(rw, "rewind_rollback_frames{run=%q} %d\n", st.runID, st.driver.Capacity())

	fmt.Fprintf(rw, "# HELP rewind_frames_total Frames advanced.\n")
	fmt.Fprintf(rw, "# TYPE rewind_frames_total counter\n")
	fmt.Fprintf(rw, "rewind_frames_total{run=%q} %d\n", st.runID, s.Frames)

	fmt.Fprintf(rw, "# HELP rewind_rewinds_total Advances that rewound to an older frame.\n")
	fmt.Fprintf(rw, "# TYPE rewind_rewinds_total counter\n")
	fmt.Fprintf(rw, "rewind_rewinds_total{run=%q} %d\n", st.runID, s.Rewinds)

	fmt.Fprintf(rw, "# HELP rewind_changes_rejected_total Changes refused by the engine.\n")
	fmt.Fprintf(rw, "# TYPE rewind_changes_rejected_total counter\n")
	fmt.Fprintf(rw, "rewind_changes_rejected_total{run=%q} %d\n", st.runID, s.Rejected)

	fmt.Fprintf(rw, "# HELP rewind_changes_dropped_total Changes dropped on a full queue.\n")
	fmt.Fprintf(rw, "# TYPE rewind_changes_dropped_total counter\n")
	fmt.Fprintf(rw, "rewind_changes_dropped_total{run=%q} %d\n", st.runID, s.Dropped)

	if st.journal != nil {
		fmt.Fprintf(rw, "# HELP rewind_journal_lines_total Frame records journaled.\n")
		fmt.Fprintf(rw, "# TYPE rewind_journal_lines_total counter\n")
		fmt.Fprintf(rw, "rewind_journal_lines_total{run=%q} %d\n", st.runID, st.journal.Lines())
	}

	if st.index == nil {
		return
	}
	is := st.index.Stats()
	fmt.Fprintf(rw, "# HELP rewind_index_queue_depth Index write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE rewind_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "rewind_index_queue_depth{run=%q} %d\n", st.runID, is.QueueDepth)

	fmt.Fprintf(rw, "# HELP rewind_index_queue_capacity Index write queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE rewind_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "rewind_index_queue_capacity{run=%q} %d\n", st.runID, is.QueueCapacity)

	fmt.Fprintf(rw, "# HELP rewind_index_dropped_total Frame records dropped by the index.\n")
	fmt.Fprintf(rw, "# TYPE rewind_index_dropped_total counter\n")
	fmt.Fprintf(rw, "rewind_index_dropped_total{run=%q} %d\n", st.runID, is.DropFrameTotal)

	fmt.Fprintf(rw, "# HELP rewind_index_written_total Frame records indexed.\n")
	fmt.Fprintf(rw, "# TYPE rewind_index_written_total counter\n")
	fmt.Fprintf(rw, "rewind_index_written_total{run=%q} %d\n", st.runID, is.WrittenTotal)

	fmt.Fprintf(rw, "# HELP rewind_index_fail_total Failed index writes or commits.\n")
	fmt.Fprintf(rw, "# TYPE rewind_index_fail_total counter\n")
	fmt.Fprintf(rw, "rewind_index_fail_total{run=%q} %d\n", st.runID, is.FailTotal)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
