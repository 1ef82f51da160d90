package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rewind.dev/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	runDir := fs.String("run", "", "run directory (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	frame := fs.Uint64("frame", 0, "target frame filter (changes)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "latest"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runDir) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*runDir, "index", "frames.sqlite")
	}

	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	rows, err := runQuery(context.Background(), idx, q, *frame, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range rows {
		_ = enc.Encode(r)
	}
}

// runQuery answers the named read-model query as generic JSON rows.
func runQuery(ctx context.Context, idx *indexdb.SQLiteIndex, q string, frame uint64, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []map[string]any
	switch q {
	case "meta":
		for _, k := range indexdb.MetaKeys {
			v, ok, err := idx.Meta(ctx, k)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, map[string]any{"key": k, "value": v})
			}
		}
	case "latest":
		f, digest, err := idx.LatestFrame(ctx)
		if err != nil {
			return nil, err
		}
		if digest != "" {
			out = append(out, map[string]any{"frame": f, "digest": digest})
		}
	case "rewinds":
		rows, err := idx.Rewinds(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, map[string]any{"advanced_at": r.AdvancedAt, "rewound_to": r.RewoundTo, "depth": r.Depth, "replayed": r.Replayed})
		}
	case "changes":
		rows, err := idx.Changes(ctx, frame, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			m := map[string]any{"advanced_at": r.AdvancedAt, "seq": r.Seq, "target_frame": r.TargetFrame, "kind": r.Kind}
			if r.Data != "" {
				m["data"] = json.RawMessage(r.Data)
			}
			out = append(out, m)
		}
	default:
		return nil, fmt.Errorf("unknown query %q (want meta|latest|rewinds|changes)", q)
	}
	return out, nil
}
