package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/session"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = 30 * time.Second
	wsMaxClientBytes = 4 << 10
	wsSnapshotBuffer = 8
)

type wsSnapshot struct {
	Type    string      `json:"type"`
	Session sessionView `json:"session"`
}

// handleSessionWS streams a snapshot of the session after every write. The
// first message is the current state. Snapshots are dropped for slow
// clients; every snapshot carries the complete state.
func (s *server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates := make(chan session.Session, wsSnapshotBuffer)
	unsubscribe := s.service.Subscribe(id, func(sess session.Session) {
		select {
		case updates <- sess:
		default:
			s.logger.Debug("dropping snapshot for slow ws client", zap.String("session_id", id), zap.Int64("revision", sess.Revision))
		}
	})
	defer unsubscribe()

	current, err := s.service.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("session ws upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxClientBytes)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(sess session.Session) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(wsSnapshot{Type: "session", Session: newSessionView(sess)})
	}
	if err := send(current); err != nil {
		return
	}
	lastRevision := current.Revision

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case sess := <-updates:
			if sess.Revision <= lastRevision {
				continue
			}
			lastRevision = sess.Revision
			if err := send(sess); err != nil {
				s.logger.Debug("session ws write failed", zap.String("session_id", id), zap.Error(err))
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
