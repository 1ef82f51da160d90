package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	persistlog "rewind.dev/internal/persistence/log"
	"rewind.dev/internal/sim/tick"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "frames":
			framesCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "runs"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

var errDone = errors.New("done")

// framesCmd prints journaled frame records as JSON lines.
func framesCmd(args []string) {
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	runDir := fs.String("run", "", "run directory")
	from := fs.Uint64("from", 0, "first frame (inclusive)")
	to := fs.Uint64("to", 0, "last frame (inclusive, optional)")
	rewoundOnly := fs.Bool("rewound", false, "only frames that rewound")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runDir) == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	enc := json.NewEncoder(os.Stdout)
	err := persistlog.ReadFrames(*runDir, func(rec tick.FrameRecord) error {
		if *to != 0 && rec.Frame > *to {
			return errDone
		}
		if rec.Frame < *from || (*rewoundOnly && !rec.Rewound) {
			return nil
		}
		return enc.Encode(rec)
	})
	if err != nil && !errors.Is(err, errDone) {
		fmt.Fprintln(os.Stderr, "frames:", err)
		os.Exit(1)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
