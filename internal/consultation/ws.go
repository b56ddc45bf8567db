package consultation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pocket-council/internal/platform/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsMaxMessage = maxUploadSize
)

// StreamEvent is one server message on the consultation socket.
type StreamEvent struct {
	Type       string        `json:"type"` // insight | ack | error
	Transcript string        `json:"transcript,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Outputs    []AgentOutput `json:"outputs,omitempty"`
	Message    string        `json:"message,omitempty"`
}

// Stream accepts transcript lines as JSON text frames ({"speaker","text"}) or
// recorded audio as binary frames, and answers each with the agents' output.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "consultationID")
	if !ok {
		return
	}
	if _, err := h.svc.GetConsultation(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	log := h.logger.With("consultation_id", id)
	log.Info("websocket client connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			log.Info("websocket client disconnected")
			return
		}

		var (
			bundle *InsightBundle
			perr   error
		)
		switch msgType {
		case websocket.BinaryMessage:
			bundle, perr = h.svc.ProcessAudio(r.Context(), id, data, "ws_chunk.webm")
		case websocket.TextMessage:
			var in TranscriptInput
			if err := json.Unmarshal(data, &in); err != nil {
				perr = errors.New("invalid transcript message")
				break
			}
			if in.Text == "" {
				break
			}
			bundle, perr = h.svc.AppendTranscript(r.Context(), id, in)
			if perr == nil {
				metrics.TranscriptChunks.WithLabelValues("ws").Inc()
			}
		default:
			continue
		}

		var ev StreamEvent
		switch {
		case perr != nil:
			ev = StreamEvent{Type: "error", Message: perr.Error()}
		case bundle == nil:
			ev = StreamEvent{Type: "ack", Message: "No speech detected"}
		default:
			ev = StreamEvent{
				Type:       "insight",
				Transcript: bundle.Transcript,
				Summary:    bundle.Summary,
				Outputs:    bundle.Outputs,
			}
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.Warn("websocket write failed", "error", err)
			return
		}
	}
}
