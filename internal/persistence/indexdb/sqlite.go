package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"rewind.dev/internal/sim/tick"
	"rewind.dev/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of the frame journal. Writes are
// queued and committed in batches by one goroutine; when the queue is full
// records are dropped and counted, the journal stays authoritative.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFrames atomic.Uint64
	written    atomic.Uint64
	failed     atomic.Uint64
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqFlush
)

type req struct {
	kind  reqKind
	frame tick.FrameRecord
	done  chan struct{}
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropFrameTotal uint64
	WrittenTotal   uint64
	FailTotal      uint64
}

const defaultQueue = 65536

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, defaultQueue)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			frame INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			replayed INTEGER NOT NULL,
			changes INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS changes (
			advanced_at INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			target_frame INTEGER NOT NULL,
			kind TEXT NOT NULL,
			data_json TEXT,
			PRIMARY KEY (advanced_at, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_target ON changes(target_frame);`,
		`CREATE TABLE IF NOT EXISTS rewinds (
			advanced_at INTEGER PRIMARY KEY,
			rewound_to INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			replayed INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteFrame queues rec. It never blocks the driver.
func (s *SQLiteIndex) WriteFrame(rec tick.FrameRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: rec}:
	default:
		s.dropFrames.Add(1)
	}
	return nil
}

// Flush commits everything queued so far and returns once it is visible to
// readers, or when ctx is done.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropFrameTotal: s.dropFrames.Load(),
		WrittenTotal:   s.written.Load(),
		FailTotal:      s.failed.Load(),
	}
}

// MetaKeys are the meta rows UpsertRun writes.
var MetaKeys = []string{"schema_version", "run_id", "started_at", "tuning_json", "tuning_digest"}

// UpsertRun records the run id and the tuning actually applied.
func (s *SQLiteIndex) UpsertRun(runID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	vals := map[string]string{
		"schema_version": "1",
		"run_id":         runID,
		"started_at":     now,
		"tuning_json":    string(b),
		"tuning_digest":  hex.EncodeToString(sum[:]),
	}
	for _, k := range MetaKeys {
		if _, err := stmt.Exec(k, vals[k]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// LatestFrame returns the newest indexed frame and its digest.
func (s *SQLiteIndex) LatestFrame(ctx context.Context) (uint64, string, error) {
	var (
		f      int64
		digest string
	)
	err := s.db.QueryRowContext(ctx, `SELECT frame, digest FROM frames ORDER BY frame DESC LIMIT 1`).Scan(&f, &digest)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return uint64(f), digest, nil
}

type RewindRow struct {
	AdvancedAt uint64
	RewoundTo  uint64
	Depth      uint64
	Replayed   int
}

// Rewinds lists recorded rewinds, oldest first.
func (s *SQLiteIndex) Rewinds(ctx context.Context, limit int) ([]RewindRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT advanced_at, rewound_to, depth, replayed FROM rewinds ORDER BY advanced_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RewindRow
	for rows.Next() {
		var r RewindRow
		var at, to, depth int64
		if err := rows.Scan(&at, &to, &depth, &r.Replayed); err != nil {
			return nil, err
		}
		r.AdvancedAt, r.RewoundTo, r.Depth = uint64(at), uint64(to), uint64(depth)
		out = append(out, r)
	}
	return out, rows.Err()
}

type ChangeRow struct {
	AdvancedAt  uint64
	Seq         int
	TargetFrame uint64
	Kind        string
	Data        string
}

// Changes lists indexed changes, newest advance first. A non-zero target
// restricts the list to changes scheduled at that frame.
func (s *SQLiteIndex) Changes(ctx context.Context, target uint64, limit int) ([]ChangeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if target != 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT advanced_at, seq, target_frame, kind, data_json FROM changes WHERE target_frame=? ORDER BY advanced_at, seq LIMIT ?`, int64(target), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT advanced_at, seq, target_frame, kind, data_json FROM changes ORDER BY advanced_at DESC, seq LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChangeRow
	for rows.Next() {
		var (
			r         ChangeRow
			at, frame int64
			data      sql.NullString
		)
		if err := rows.Scan(&at, &r.Seq, &frame, &r.Kind, &data); err != nil {
			return nil, err
		}
		r.AdvancedAt, r.TargetFrame, r.Data = uint64(at), uint64(frame), data.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(frame,digest,replayed,changes,raw_json) VALUES(?,?,?,?,?)`)
	insertChange, _ := s.db.Prepare(`INSERT OR REPLACE INTO changes(advanced_at,seq,target_frame,kind,data_json) VALUES(?,?,?,?,?)`)
	insertRewind, _ := s.db.Prepare(`INSERT OR REPLACE INTO rewinds(advanced_at,rewound_to,depth,replayed) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFrame, insertChange, insertRewind} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	writeFrame := func(rec tick.FrameRecord) bool {
		raw, _ := json.Marshal(rec)
		at := int64(rec.Frame)
		if _, err := tx.Stmt(insertFrame).Exec(at, rec.Digest, rec.Replayed, len(rec.Changes), string(raw)); err != nil {
			return false
		}
		opCount++
		for i, c := range rec.Changes {
			var data any
			if len(c.Data) > 0 {
				data = string(c.Data)
			}
			if _, err := tx.Stmt(insertChange).Exec(at, i, int64(c.Frame), c.Kind, data); err != nil {
				return false
			}
			opCount++
		}
		if rec.Rewound {
			depth := rec.Frame - rec.RewoundTo
			if _, err := tx.Stmt(insertRewind).Exec(at, int64(rec.RewoundTo), int64(depth), rec.Replayed); err != nil {
				return false
			}
			opCount++
		}
		return true
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			s.failed.Add(1)
			continue
		}
		if insertFrame == nil || insertChange == nil || insertRewind == nil {
			s.failed.Add(1)
			continue
		}
		if !writeFrame(r.frame) {
			rollback()
			continue
		}
		s.written.Add(1)
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
