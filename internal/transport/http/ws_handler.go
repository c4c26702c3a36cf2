package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"educards-match/internal/app"
	"educards-match/internal/domain"
)

type WSHandler struct {
	registry *app.Registry
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *app.Registry) *WSHandler {
	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

const (
	msgStart   = "start"
	msgAnswer  = "answer"
	msgReveal  = "reveal"
	msgAdvance = "advance"
	msgCancel  = "cancel"

	msgJoined   = "joined"
	msgState    = "state"
	msgAccepted = "answerAccepted"
	msgResult   = "result"
	msgError    = "error"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	OptionIndex *int `json:"optionIndex"`
}

type acceptedPayload struct {
	OptionIndex int `json:"optionIndex"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: clientMessage(err)}}
}

// clientMessage hides which kind of rejection happened so clients cannot probe timing.
func clientMessage(err error) string {
	switch {
	case domain.IsRejectedSubmission(err):
		return "answer not accepted"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "match not found; rejoin or treat the match as ended"
	default:
		return err.Error()
	}
}

// ServeWS upgrades HTTP requests to websockets and wires them into the match registry.
// The moderator connects with their own user id and is not added to the roster.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("matchId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if matchID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing matchId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	snap, err := h.registry.Snapshot(ctx, matchID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	moderator := snap.ModeratorID == userID
	if !moderator {
		snap, err = h.registry.Join(ctx, matchID, domain.Identity{ID: userID, DisplayName: displayName})
		if err != nil {
			_ = conn.WriteJSON(errorMessage(err))
			return
		}
		defer h.registry.Leave(ctx, matchID, userID)
	}

	updates, cancel, err := h.registry.Subscribe(ctx, matchID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	logger := log.With().Str("match_id", matchID).Str("participant_id", userID).Bool("moderator", moderator).Logger()
	logger.Info().Msg("ws connected")

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer goroutine; gorilla connections allow one concurrent writer.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Warn().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		sentResult := false
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				msgs := []outboundMessage[any]{{Type: msgState, Payload: update}}
				if update.Result != nil && !moderator && !sentResult {
					if entry, ok := update.Result.For(userID); ok {
						msgs = append(msgs, outboundMessage[any]{Type: msgResult, Payload: entry})
						sentResult = true
					}
				}
				for _, msg := range msgs {
					select {
					case send <- msg:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: msgJoined, Payload: snap}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case msgAnswer:
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.OptionIndex == nil {
				send <- outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			sub, err := h.registry.Submit(ctx, matchID, userID, *payload.OptionIndex)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: msgAccepted, Payload: acceptedPayload{OptionIndex: sub.OptionIndex}}
		case msgStart, msgReveal, msgAdvance, msgCancel:
			if err := h.command(r, inbound.Type, matchID, userID); err != nil {
				send <- errorMessage(err)
			}
		default:
			send <- outboundMessage[any]{Type: msgError, Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	logger.Info().Msg("ws disconnected")
}

func (h *WSHandler) command(r *http.Request, typ, matchID, actorID string) error {
	ctx := r.Context()
	switch typ {
	case msgStart:
		return h.registry.Start(ctx, matchID, actorID)
	case msgReveal:
		return h.registry.Reveal(ctx, matchID, actorID)
	case msgAdvance:
		return h.registry.Advance(ctx, matchID, actorID)
	case msgCancel:
		return h.registry.Cancel(ctx, matchID, actorID)
	}
	return nil
}
