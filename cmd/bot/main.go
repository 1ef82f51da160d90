package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"rewind.dev/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "player name")
		lag    = flag.Int("lag", 2, "send inputs this many frames behind the newest frame")
		jitter = flag.Int("jitter", 3, "extra random lag in frames")
		seed   = flag.Int64("seed", time.Now().UnixNano(), "random walk seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Player:          *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var (
		newest  atomic.Uint64
		acks    atomic.Uint64
		rejects atomic.Uint64
	)
	welcome := make(chan protocol.WelcomeMsg, 1)
	done := make(chan struct{})

	// Reader.
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				logger.Printf("WELCOME session=%s join_frame=%d rollback_frames=%d tick_rate=%d", w.SessionID, w.JoinFrame, w.RollbackFrames, w.TickRateHz)
				newest.Store(w.NewestFrame)
				welcome <- w
			case protocol.TypeAck:
				var a protocol.AckMsg
				if err := json.Unmarshal(msg, &a); err != nil {
					continue
				}
				if a.NewestFrame > newest.Load() {
					newest.Store(a.NewestFrame)
				}
				acks.Add(1)
			case protocol.TypeError:
				var e protocol.ErrorMsg
				if err := json.Unmarshal(msg, &e); err != nil {
					continue
				}
				rejects.Add(1)
				logger.Printf("ERROR seq=%d code=%s: %s", e.Seq, e.Code, e.Message)
			}
		}
	}()

	var w protocol.WelcomeMsg
	select {
	case w = <-welcome:
	case <-done:
		logger.Fatalf("connection closed before WELCOME")
	case <-stop:
		return
	}

	r := rand.New(rand.NewSource(*seed))
	hz := w.TickRateHz
	if hz <= 0 {
		hz = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	var (
		seq   uint64
		frame = w.JoinFrame
		moveX = 1
		moveY = 0
	)
	for {
		select {
		case <-stop:
			return
		case <-done:
			logger.Printf("connection closed")
			return
		case <-report.C:
			logger.Printf("newest=%d acks=%d rejects=%d", newest.Load(), acks.Load(), rejects.Load())
		case <-ticker.C:
			// Random walk: change direction now and then.
			if r.Intn(8) == 0 {
				moveX, moveY = r.Intn(3)-1, r.Intn(3)-1
			}
			// Estimate the server's newest frame and aim behind it.
			est := newest.Load() + 1
			newest.Store(est)
			back := uint64(*lag)
			if *jitter > 0 {
				back += uint64(r.Intn(*jitter + 1))
			}
			target := w.JoinFrame
			if est > back && est-back > target {
				target = est - back
			}
			if target <= frame {
				target = frame + 1
			}
			frame = target
			seq++
			in := protocol.InputMsg{Type: protocol.TypeInput, Seq: seq, Frame: frame, MoveX: moveX, MoveY: moveY}
			if err := conn.WriteJSON(in); err != nil {
				logger.Printf("send INPUT: %v", err)
				return
			}
		}
	}
}
