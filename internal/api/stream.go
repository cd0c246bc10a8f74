package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// streamJob pushes the job record to a websocket client each time it
// changes and closes the connection after a terminal state.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer conn.Close() //nolint:errcheck // connection is done either way

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var updates <-chan capture.JobRecord
	if s.subs != nil {
		ch, unsubscribe := s.subs.Subscribe(jobID)
		defer unsubscribe()
		updates = ch
	}

	st := &streamState{conn: conn}
	if done := st.push(s.jobs.Status(ctx, jobID)); done {
		st.close("job finished")
		return
	}
	if st.err != nil {
		return
	}

	ticker := time.NewTicker(s.opts.StreamPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-updates:
			if !ok {
				// Subscription ended; the store has the final word.
				updates = nil
				rec = s.jobs.Status(ctx, jobID)
			}
			if st.push(rec) {
				st.close("job finished")
				return
			}
		case <-ticker.C:
			if st.push(s.jobs.Status(ctx, jobID)) {
				st.close("job finished")
				return
			}
		}
		if st.err != nil {
			s.logger.Debug("websocket write failed", zap.String("job_id", jobID), zap.Error(st.err))
			return
		}
	}
}

type streamState struct {
	conn *websocket.Conn
	last capture.JobRecord
	sent bool
	err  error
}

// push writes rec when it differs from the last record sent and reports
// whether the stream should end.
func (st *streamState) push(rec capture.JobRecord) bool {
	if st.err != nil {
		return true
	}
	changed := !st.sent || rec.State != st.last.State || !rec.UpdatedAt.Equal(st.last.UpdatedAt)
	if changed {
		_ = st.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := st.conn.WriteJSON(rec); err != nil {
			st.err = err
			return false
		}
		st.last = rec
		st.sent = true
	}
	return rec.State.Terminal()
}

func (st *streamState) close(reason string) {
	if st.err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = st.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
