// Package ws is the wire surface of the authority: intents in, acks and
// observations out. The transport never touches world state; every
// submission goes through the kernel and every backlog read goes through
// the event log.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/kernel"
	"gridwarden.ai/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second

	defaultObsLimit = 256
	maxObsLimit     = 1024
)

type session struct {
	id     string
	source uint64
	out    chan []byte
}

type Server struct {
	k     *kernel.Kernel
	store *eventlog.Store
	log   *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(k *kernel.Kernel, store *eventlog.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		k:     k,
		store: store,
		log:   log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: make(map[string]*session),
	}
}

// Broadcast pushes a completed tick's observations to every connected
// session. Slow consumers drop frames here at the boundary; the kernel is
// never back-pressured by a reader.
func (s *Server) Broadcast(tick uint64, obs []protocol.ObservationEvent) {
	if len(obs) == 0 {
		return
	}
	msg := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		WorldID:         s.k.Status().WorldID,
		Events:          obs,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("broadcast marshal", "tick", tick, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		select {
		case sess.out <- b:
		default:
			s.log.Warn("dropping observations for slow session", "session", sess.id, "tick", tick)
		}
	}
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
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.sendErr(sess, protocol.ErrProtoBadRequest, "unparseable frame")
				continue
			}
			switch base.Type {
			case protocol.TypeSubmit:
				s.handleSubmit(sess, msg)
			case protocol.TypeObsReq:
				s.handleObsReq(sess, msg)
			default:
				s.sendErr(sess, protocol.ErrProtoBadRequest, "unexpected type "+base.Type)
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"),
			time.Now().Add(time.Second))
		return nil
	}
	if err := protocol.ValidateMessage(protocol.HelloSchema, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "malformed HELLO"),
			time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"),
			time.Now().Add(time.Second))
		return nil
	}
	role := hello.Role
	if role == "" {
		role = world.RoleObserver
	}

	sess := &session{
		id:     uuid.NewString(),
		source: hello.Source,
		out:    make(chan []byte, 64),
	}

	st := s.k.Status()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Source:          sess.source,
		WorldID:         st.WorldID,
		Tick:            st.Tick,
		WorldParams: protocol.WorldParams{
			Seed:             st.Seed,
			BoundaryR:        st.BoundaryR,
			PerceptionRadius: st.PerceptionRadius,
			SnapshotEvery:    st.SnapshotEvery,
			PolicyVersion:    st.PolicyVersion,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.log.Info("session open", "session", sess.id, "role", role, "source", sess.source)
	return sess
}

func (s *Server) handleSubmit(sess *session, msg []byte) {
	var sub protocol.SubmitMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		s.sendErr(sess, protocol.ErrProtoBadRequest, "unparseable SUBMIT")
		return
	}
	if sub.ProtocolVersion != protocol.Version {
		s.sendAck(sess, protocol.AckMsg{AckFor: sub.ReqID, Code: protocol.ErrProtoBadRequest, Message: "bad protocol_version"})
		return
	}
	if err := protocol.ValidateMessage(protocol.SubmitSchema, msg); err != nil {
		s.sendAck(sess, protocol.AckMsg{AckFor: sub.ReqID, Code: protocol.ErrBadRequest, Message: err.Error()})
		return
	}
	if sess.source == protocol.SourceSystem {
		s.sendAck(sess, protocol.AckMsg{AckFor: sub.ReqID, Code: protocol.ErrUnknownSource, Message: "session has no submitter id"})
		return
	}

	se, err := s.k.Submit(sess.source, sub.Payload, sub.Tick)
	if err != nil {
		s.sendAck(sess, protocol.AckMsg{AckFor: sub.ReqID, Code: submitErrCode(err), Message: err.Error()})
		return
	}
	s.sendAck(sess, protocol.AckMsg{
		AckFor:   sub.ReqID,
		Accepted: true,
		Sequence: se.Seq,
		Tick:     se.Event.Tick,
		Hash:     se.Event.Hash.String(),
	})
}

func submitErrCode(err error) string {
	switch {
	case errors.Is(err, kernel.ErrPastTick):
		return protocol.ErrPastTick
	case errors.Is(err, kernel.ErrHalted):
		return protocol.ErrHalted
	default:
		var se *kernel.StorageError
		if errors.As(err, &se) {
			return protocol.ErrInternal
		}
		return protocol.ErrBadRequest
	}
}

func (s *Server) handleObsReq(sess *session, msg []byte) {
	var req protocol.ObsReqMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		s.sendErr(sess, protocol.ErrProtoBadRequest, "unparseable OBS_REQ")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultObsLimit
	}
	if limit > maxObsLimit {
		limit = maxObsLimit
	}
	rows, next, err := s.store.Observations(req.SinceCursor, limit)
	if err != nil {
		s.sendErr(sess, protocol.ErrInternal, "observation read failed")
		s.log.Error("obs read", "session", sess.id, "err", err)
		return
	}
	items := make([]protocol.ObsBatchItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, protocol.ObsBatchItem{Cursor: r.Cursor, Event: r.Event})
	}
	s.send(sess, protocol.ObsBatchMsg{
		Type:            protocol.TypeObsBatch,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Events:          items,
		NextCursor:      next,
	})
}

func (s *Server) sendAck(sess *session, ack protocol.AckMsg) {
	ack.Type = protocol.TypeAck
	ack.ProtocolVersion = protocol.Version
	s.send(sess, ack)
}

func (s *Server) sendErr(sess *session, code, msg string) {
	s.send(sess, protocol.ErrMsg{
		Type:            protocol.TypeErr,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
}

func (s *Server) send(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal", "session", sess.id, "err", err)
		return
	}
	select {
	case sess.out <- b:
	default:
		s.log.Warn("dropping reply for slow session", "session", sess.id)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
