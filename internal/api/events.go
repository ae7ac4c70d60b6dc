package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/shorty/shorty-agent/internal/jobs"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

// jobEventsHandler streams a job's progress and status events over a
// websocket. The stream opens with the job's current status and closes
// after its final status event.
func jobEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if cfg.Hub == nil {
			WriteError(w, http.StatusInternalServerError, "event hub not configured", "INTERNAL_ERROR")
			return
		}

		// Subscribe before reading state so no transition is missed.
		events, unsubscribe := cfg.Hub.Subscribe(id)
		defer unsubscribe()

		job, err := cfg.JobService.GetJob(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "error", err, "job_id", id)
			return
		}
		defer conn.Close()

		initial := jobs.Event{
			JobID:   job.ID,
			Type:    jobs.EventStatus,
			Status:  job.Status,
			Pass:    job.Pass,
			Passes:  job.Passes,
			Percent: job.Progress,
			Error:   job.Error,
			Time:    job.UpdatedAt,
		}
		if err := writeEvent(conn, initial); err != nil || initial.Final() {
			closeStream(conn)
			return
		}

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					closeStream(conn)
					return
				}
				if err := writeEvent(conn, ev); err != nil {
					cfg.Logger.Debug("event stream write failed", "error", err, "job_id", id)
					return
				}
				if ev.Final() {
					closeStream(conn)
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev jobs.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
