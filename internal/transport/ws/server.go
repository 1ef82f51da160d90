package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rewind.dev/internal/protocol"
	"rewind.dev/internal/sim/arena"
	"rewind.dev/internal/sim/rollback"
	"rewind.dev/internal/sim/tick"
)

// errNoVerdict means RespTimeout passed before the driver answered. The
// request is still queued and may yet be scheduled.
var errNoVerdict = errors.New("ws: no verdict from driver yet")

type Config struct {
	Driver     *tick.Driver
	TickRateHz int
	Logger     *log.Logger

	// RespTimeout bounds the wait for the driver to schedule a change.
	RespTimeout time.Duration
}

type Server struct {
	drv         *tick.Driver
	tickHz      int
	log         *log.Logger
	respTimeout time.Duration
	validator   *protocol.Validator

	upgrader websocket.Upgrader

	mu      sync.Mutex
	players map[string]string // player -> session
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Driver == nil {
		return nil, errors.New("ws: missing driver")
	}
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		drv:         cfg.Driver,
		tickHz:      cfg.TickRateHz,
		log:         cfg.Logger,
		respTimeout: cfg.RespTimeout,
		validator:   v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		players: map[string]string{},
	}
	if s.log == nil {
		s.log = log.Default()
	}
	if s.respTimeout <= 0 {
		s.respTimeout = 5 * time.Second
	}
	return s, nil
}

type session struct {
	id     string
	player string
	out    chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.release(sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleMessage(ctx, sess, msg)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, errorMsg(0, protocol.ErrProtoVersion, fmt.Sprintf("want protocol_version %s", protocol.Version)))
		closePolicy(conn, "bad protocol_version")
		return nil
	}
	if err := s.validator.Validate(protocol.TypeHello, msg); err != nil {
		_ = writeJSON(conn, errorMsg(0, protocol.ErrProtoBadRequest, err.Error()))
		closePolicy(conn, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}

	sess := &session{
		id:     uuid.NewString(),
		player: hello.Player,
		out:    make(chan []byte, 64),
	}
	if !s.claim(sess) {
		_ = writeJSON(conn, errorMsg(0, protocol.ErrProtoBadRequest, "player already connected"))
		closePolicy(conn, "player already connected")
		return nil
	}

	joinFrame := s.drv.Newest() + 1
	err = s.submit(joinFrame, arena.JoinChange{Player: hello.Player, X: hello.SpawnX, Y: hello.SpawnY})
	if err != nil {
		s.release(sess)
		_ = writeJSON(conn, errorMsg(0, codeFor(err), err.Error()))
		return nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Player:          sess.player,
		JoinFrame:       uint64(joinFrame),
		NewestFrame:     uint64(s.drv.Newest()),
		RollbackFrames:  s.drv.Capacity(),
		TickRateHz:      s.tickHz,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.release(sess)
		return nil
	}
	s.log.Printf("session %s: player %s joined at frame %d", sess.id, sess.player, joinFrame)
	return sess
}

func (s *Server) handleMessage(ctx context.Context, sess *session, msg []byte) {
	typ, err := s.validator.ValidateMessage(msg)
	if err != nil {
		s.send(ctx, sess, errorMsg(0, protocol.ErrProtoBadRequest, err.Error()))
		return
	}
	if typ != protocol.TypeInput {
		s.send(ctx, sess, errorMsg(0, protocol.ErrProtoBadRequest, "unexpected "+typ))
		return
	}
	var in protocol.InputMsg
	if err := json.Unmarshal(msg, &in); err != nil {
		s.send(ctx, sess, errorMsg(0, protocol.ErrProtoBadRequest, err.Error()))
		return
	}

	frame := rollback.Frame(in.Frame)
	if limit := s.drv.Newest() + rollback.Frame(s.drv.Capacity()); frame > limit {
		s.send(ctx, sess, errorMsg(in.Seq, protocol.ErrFrameAhead, fmt.Sprintf("frame %d is past %d", frame, limit)))
		return
	}

	resp := make(chan error, 1)
	req, err := arena.Request(frame, arena.InputChange{
		Player: sess.player,
		Input:  arena.Input{MoveX: in.MoveX, MoveY: in.MoveY},
	}, resp)
	if err != nil {
		s.send(ctx, sess, errorMsg(in.Seq, protocol.ErrInternal, err.Error()))
		return
	}
	if err := s.drv.Submit(req); err != nil {
		s.send(ctx, sess, errorMsg(in.Seq, codeFor(err), err.Error()))
		return
	}

	go func() {
		var err error
		select {
		case err = <-resp:
		case <-time.After(s.respTimeout):
			err = errNoVerdict
		case <-ctx.Done():
			return
		}
		if err != nil {
			s.send(ctx, sess, errorMsg(in.Seq, codeFor(err), err.Error()))
			return
		}
		s.send(ctx, sess, protocol.AckMsg{
			Type:        protocol.TypeAck,
			Seq:         in.Seq,
			Frame:       in.Frame,
			NewestFrame: uint64(s.drv.Newest()),
		})
	}()
}

// submit schedules c and waits for the driver's verdict.
func (s *Server) submit(frame rollback.Frame, c arena.Change) error {
	resp := make(chan error, 1)
	req, err := arena.Request(frame, c, resp)
	if err != nil {
		return err
	}
	if err := s.drv.Submit(req); err != nil {
		return err
	}
	select {
	case err := <-resp:
		return err
	case <-time.After(s.respTimeout):
		return errNoVerdict
	}
}

func (s *Server) claim(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[sess.player]; ok {
		return false
	}
	s.players[sess.player] = sess.id
	return true
}

// release drops the player from the arena and frees the name.
func (s *Server) release(sess *session) {
	s.mu.Lock()
	if s.players[sess.player] != sess.id {
		s.mu.Unlock()
		return
	}
	delete(s.players, sess.player)
	s.mu.Unlock()

	req, err := arena.Request(s.drv.Newest()+1, arena.LeaveChange{Player: sess.player}, nil)
	if err == nil {
		err = s.drv.Submit(req)
	}
	if err != nil {
		s.log.Printf("session %s: leave for %s not scheduled: %v", sess.id, sess.player, err)
		return
	}
	s.log.Printf("session %s: player %s left", sess.id, sess.player)
}

func (s *Server) send(ctx context.Context, sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	case <-ctx.Done():
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, rollback.ErrFrameTimeout):
		return protocol.ErrFrameTimeout
	case errors.Is(err, rollback.ErrHalted):
		return protocol.ErrHalted
	case errors.Is(err, tick.ErrQueueFull):
		return protocol.ErrBusy
	case errors.Is(err, errNoVerdict):
		return protocol.ErrPending
	default:
		return protocol.ErrInternal
	}
}

func errorMsg(seq uint64, code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{Type: protocol.TypeError, Seq: seq, Code: code, Message: message}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
