package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/casegraph/internal/models"
)

const (
	keepAlivePingInterval = 10 * time.Second
	writeWait             = 5 * time.Second
)

// Stream message types.
const (
	StreamEvent = "event"
	StreamEnd   = "end"
	StreamError = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // no browser clients; the CLI is the only consumer
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamMessage is one frame of a run event stream. Event frames carry a log
// entry; the end frame carries the terminal run status.
type StreamMessage struct {
	Type   string           `json:"type"`
	Event  *models.RunEvent `json:"event,omitempty"`
	Status models.RunStatus `json:"status,omitempty"`
	Next   int              `json:"next"`
	Error  string           `json:"error,omitempty"`
}

// GET /api/v1/workflow/runs/:run/stream?case_id=&since=
//
// Tails the run event log over a websocket until the run reaches a terminal
// status and the log is drained, or the client disconnects.
func (h *handler) streamEvents(c echo.Context) error {
	caseID, err := caseParam(c)
	if err != nil {
		return err
	}
	since, err := sinceParam(c)
	if err != nil {
		return err
	}
	runID := c.Param("run")
	if _, err := h.Workflow.GetRun(c.Request().Context(), caseID, runID); err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		h.Logger.Debug("websocket upgrade failed", "run", runID, "error", err)
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(h.StreamPoll)
	defer poll.Stop()
	ping := time.NewTicker(keepAlivePingInterval)
	defer ping.Stop()

	for {
		run, err := h.Workflow.GetRun(ctx, caseID, runID)
		if err != nil {
			return h.endStream(ctx, conn, StreamMessage{Type: StreamError, Next: since, Error: err.Error()})
		}
		events, next, err := h.Workflow.ReadEvents(ctx, caseID, runID, since)
		if err != nil {
			return h.endStream(ctx, conn, StreamMessage{Type: StreamError, Next: since, Error: err.Error()})
		}
		for i := range events {
			msg := StreamMessage{Type: StreamEvent, Event: &events[i], Next: events[i].Seq + 1}
			if err := writeMessage(conn, msg); err != nil {
				h.Logger.Debug("stream client gone", "run", runID, "error", err)
				return nil
			}
		}
		since = next
		if run.Status.Terminal() && len(events) == 0 {
			return h.endStream(ctx, conn, StreamMessage{Type: StreamEnd, Status: run.Status, Next: since})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case <-poll.C:
		}
	}
}

func (h *handler) endStream(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := writeMessage(conn, msg); err != nil {
		return nil
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.Type)
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)); err != nil {
		h.Logger.Debug("write close frame", "error", err)
	}
	return nil
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
