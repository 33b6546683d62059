package http

import (
	"context"
	"encoding/json"
	"net/http"

	"assessment-engine/internal/app"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type WSHandler struct {
	engine   *app.Engine
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(engine *app.Engine, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsAnswerPayload struct {
	QuestionID string `json:"questionId"`
	Label      string `json:"label"`
}

type wsNavigatePayload struct {
	Index int `json:"index"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades to a websocket bound to one session. The current snapshot and every later
// state change are pushed as "state" messages; the client drives the session with "start", "answer",
// "navigate", "next", "previous" and "submit" messages. Rejected actions come back as "error".
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	updates, cancel, err := h.engine.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer; gorilla connections do not support concurrent writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Str("session_id", sessionID).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: view}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	h.readActions(ctx, sessionID, func(m *inboundMessage) error { return conn.ReadJSON(m) }, send, writerDone)

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// readActions dispatches client messages until the peer goes away or the writer stops.
func (h *WSHandler) readActions(ctx context.Context, sessionID string, read func(*inboundMessage) error,
	send chan<- outboundMessage[any], writerDone <-chan struct{}) {
	for {
		var inbound inboundMessage
		if err := read(&inbound); err != nil {
			return
		}
		if err := h.dispatch(ctx, sessionID, inbound); err != nil {
			select {
			case send <- errorMessage(err):
			case <-writerDone:
				return
			}
		}
	}
}

// dispatch applies one client action. Successful actions are reported through the subscription.
func (h *WSHandler) dispatch(ctx context.Context, sessionID string, msg inboundMessage) error {
	var err error
	switch msg.Type {
	case "start":
		_, err = h.engine.Start(ctx, sessionID)
	case "answer":
		var p wsAnswerPayload
		if jerr := json.Unmarshal(msg.Payload, &p); jerr != nil {
			return errInvalidRequest
		}
		_, err = h.engine.Answer(ctx, sessionID, p.QuestionID, p.Label)
	case "navigate":
		var p wsNavigatePayload
		if jerr := json.Unmarshal(msg.Payload, &p); jerr != nil {
			return errInvalidRequest
		}
		_, err = h.engine.Navigate(ctx, sessionID, p.Index)
	case "next":
		_, err = h.engine.Next(ctx, sessionID)
	case "previous":
		_, err = h.engine.Previous(ctx, sessionID)
	case "submit":
		_, err = h.engine.Submit(ctx, sessionID)
	default:
		return errUnsupportedMessage
	}
	return err
}

func errorMessage(err error) outboundMessage[any] {
	_, code := classify(err)
	return outboundMessage[any]{Type: "error", Payload: errorResponse{Code: code, Message: err.Error()}}
}
