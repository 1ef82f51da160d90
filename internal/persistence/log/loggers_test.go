package log

import (
	"errors"
	"testing"
	"time"

	"rewind.dev/internal/sim/tick"
)

func TestFrameLogger_RoundTripAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewFrameLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for f := uint64(1); f <= 6; f++ {
		if f == 4 {
			clock = clock.Add(2 * time.Minute)
		}
		rec := tick.FrameRecord{Frame: f, Digest: "d", Replayed: 1}
		if f == 5 {
			rec.Rewound, rec.RewoundTo, rec.Replayed = true, 2, 4
			rec.Changes = []tick.RecordedChange{{Frame: 2, Kind: "input", Data: []byte(`{"player":"p1"}`)}}
		}
		if err := l.WriteFrame(rec); err != nil {
			t.Fatalf("write %d: %v", f, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := FrameFiles(dir)
	if err != nil || len(files) != 2 {
		t.Fatalf("files: %v %v", files, err)
	}

	var got []tick.FrameRecord
	if err := ReadFrames(dir, func(r tick.FrameRecord) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("read %d frames", len(got))
	}
	for i, r := range got {
		if r.Frame != uint64(i+1) {
			t.Fatalf("order: %+v", got)
		}
	}
	if r := got[4]; !r.Rewound || r.RewoundTo != 2 || len(r.Changes) != 1 || string(r.Changes[0].Data) != `{"player":"p1"}` {
		t.Fatalf("rewind record: %+v", r)
	}
}

func TestReadFrames_StopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	l := NewFrameLogger(dir)
	for f := uint64(1); f <= 3; f++ {
		_ = l.WriteFrame(tick.FrameRecord{Frame: f})
	}
	_ = l.Close()

	stop := errors.New("stop")
	n := 0
	err := ReadFrames(dir, func(tick.FrameRecord) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestReadFrames_EmptyRun(t *testing.T) {
	if err := ReadFrames(t.TempDir(), func(tick.FrameRecord) error { return nil }); err == nil {
		t.Fatalf("expected error for missing journal")
	}
}
