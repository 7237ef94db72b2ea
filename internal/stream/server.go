package stream

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"videoseg/internal/platform/metrics"
	"videoseg/internal/session"
)

// Server owns the server end of the propagation stream: one websocket
// connection per propagation attempt.
type Server struct {
	coord    *session.Coordinator
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewServer returns a Server streaming from the given coordinator. Metrics
// may be nil to disable metric recording (e.g. in tests).
func NewServer(coord *session.Coordinator, log *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		coord:   coord,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			// The demo backend serves a browser client from another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandlePropagate handles GET /api/sessions/{session_id}/propagate.
//
// Protocol: the client sends a single start message; the server emits one
// propagation_frame per processed frame in engine order, then exactly one
// propagation_done. If the generation is superseded the connection is closed
// silently instead; if an error occurs a single terminal error message is
// sent.
func (s *Server) HandlePropagate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	requestID := uuid.NewString()

	var start StartMessage
	if err := conn.ReadJSON(&start); err != nil {
		s.writeError(conn, &session.Error{
			Code:      session.CodeBadRequest,
			Message:   "Invalid websocket payload",
			Details:   err.Error(),
			RequestID: requestID,
		})
		return
	}
	if start.Action != ActionStart {
		s.writeError(conn, &session.Error{
			Code:      session.CodeBadRequest,
			Message:   "First message must have action \"start\"",
			RequestID: requestID,
		})
		return
	}

	direction, err := session.ParseDirection(start.Direction)
	if err != nil {
		s.writeTypedError(conn, err, requestID)
		return
	}

	prop, err := s.coord.StartPropagation(r.Context(), sessionID, direction, start.StartFrameIndex)
	if err != nil {
		s.writeTypedError(conn, err, requestID)
		return
	}
	defer prop.Close()
	if s.metrics != nil {
		s.metrics.IncPropagationsStarted()
	}

	for {
		res, ok, err := prop.Next(r.Context())
		if err != nil {
			s.log.Error("propagation failed",
				slog.String("session_id", sessionID),
				slog.String("direction", string(direction)),
				slog.Int64("generation", prop.Generation()),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
			s.writeTypedError(conn, err, requestID)
			return
		}
		if !ok {
			break
		}
		if err := conn.WriteJSON(FrameMessage{
			Type:       TypePropagationFrame,
			FrameIndex: res.FrameIndex,
			Objects:    res.Objects,
		}); err != nil {
			// Client went away before completion; that is not an error.
			s.log.Debug("propagation client disconnected",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			return
		}
		if s.metrics != nil {
			s.metrics.IncPropagationFrames()
		}
	}

	if prop.Superseded() {
		// A newer generation took over: stop silently, no done, no error.
		s.log.Info("propagation superseded",
			slog.String("session_id", sessionID),
			slog.Int64("generation", prop.Generation()))
		return
	}

	if err := conn.WriteJSON(DoneMessage{Type: TypePropagationDone}); err != nil {
		return
	}
	s.log.Info("propagation done",
		slog.String("session_id", sessionID),
		slog.Int64("generation", prop.Generation()))
}

// writeTypedError maps an error to its taxonomy code before sending. Untyped
// errors become MODEL_RUNTIME_ERROR, matching the coordinator's engine-call
// wrapping.
func (s *Server) writeTypedError(conn *websocket.Conn, err error, requestID string) {
	var typed *session.Error
	if !errors.As(err, &typed) {
		typed = &session.Error{Code: session.CodeEngineError, Message: "Propagation failed", Details: err.Error()}
	}
	if typed.RequestID == "" {
		copied := *typed
		copied.RequestID = requestID
		typed = &copied
	}
	s.writeError(conn, typed)
}

func (s *Server) writeError(conn *websocket.Conn, e *session.Error) {
	if s.metrics != nil {
		s.metrics.IncErrors()
	}
	_ = conn.WriteJSON(ErrorMessage{
		Type:      TypeError,
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: e.RequestID,
	})
}
