package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rewind.dev/internal/sim/tick"
	"rewind.dev/internal/sim/tuning"
)

func TestSQLiteIndex_WritesFramesChangesRewinds(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "rewind.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.UpsertRun("run-1", tuning.Defaults()); err != nil {
		t.Fatalf("upsert run: %v", err)
	}
	for f := uint64(1); f <= 4; f++ {
		_ = s.WriteFrame(tick.FrameRecord{Frame: f, Digest: "d" + string(rune('0'+f)), Replayed: 1})
	}
	_ = s.WriteFrame(tick.FrameRecord{
		Frame: 5, Digest: "d5", Rewound: true, RewoundTo: 2, Replayed: 4,
		Changes: []tick.RecordedChange{
			{Frame: 2, Kind: "input", Data: []byte(`{"player":"a"}`)},
			{Frame: 3, Kind: "leave"},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	f, digest, err := s.LatestFrame(ctx)
	if err != nil || f != 5 || digest != "d5" {
		t.Fatalf("latest: %d %q %v", f, digest, err)
	}
	rw, err := s.Rewinds(ctx, 0)
	if err != nil {
		t.Fatalf("rewinds: %v", err)
	}
	if len(rw) != 1 || rw[0].AdvancedAt != 5 || rw[0].RewoundTo != 2 || rw[0].Depth != 3 || rw[0].Replayed != 4 {
		t.Fatalf("rewind rows: %+v", rw)
	}
	cs, err := s.Changes(ctx, 2, 0)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(cs) != 1 || cs[0].Kind != "input" || cs[0].AdvancedAt != 5 || cs[0].Data != `{"player":"a"}` {
		t.Fatalf("changes at 2: %+v", cs)
	}
	if all, err := s.Changes(ctx, 0, 0); err != nil || len(all) != 2 || all[1].Kind != "leave" || all[1].Data != "" {
		t.Fatalf("all changes: %+v %v", all, err)
	}
	if v, ok, err := s.Meta(ctx, "run_id"); err != nil || !ok || v != "run-1" {
		t.Fatalf("meta run_id: %q %v %v", v, ok, err)
	}
	if st := s.Stats(); st.WrittenTotal != 5 || st.FailTotal != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqFrame, frame: tick.FrameRecord{Frame: 1}}

	_ = s.WriteFrame(tick.FrameRecord{Frame: 2})
	_ = s.WriteFrame(tick.FrameRecord{Frame: 3})

	st := s.Stats()
	if st.DropFrameTotal != 2 {
		t.Fatalf("DropFrameTotal=%d want=2", st.DropFrameTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WriteAfterCloseIsNoop(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.WriteFrame(tick.FrameRecord{Frame: 1}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
