package session

// Code is the machine-readable error taxonomy shared by the HTTP API and the
// propagation stream. Transport payloads are decoded into this closed set at
// the boundary; untyped error shapes never travel through the internals.
type Code string

const (
	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
	CodeInvalidFrameIndex Code = "INVALID_FRAME_INDEX"
	CodeInvalidPoint      Code = "INVALID_POINT"
	CodeInvalidDirection  Code = "INVALID_DIRECTION"
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeEngineError       Code = "MODEL_RUNTIME_ERROR"
	CodeMaskDecode        Code = "MASK_DECODE_ERROR"
	CodeVideoTooLong      Code = "VIDEO_TOO_LONG"
	CodeVideoProcessing   Code = "VIDEO_PROCESSING_FAILED"
	CodeTransportClosed   Code = "TRANSPORT_CLOSED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error carries a taxonomy code alongside the human-readable message and
// optional diagnostic details and correlation id.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return string(e.Code) + ": " + e.Message + " (" + e.Details + ")"
	}
	return string(e.Code) + ": " + e.Message
}

// errSessionNotFound builds the standard absent-session error.
func errSessionNotFound() *Error {
	return &Error{Code: CodeSessionNotFound, Message: "Session not found"}
}

// engineError wraps an inference engine failure with its details preserved.
func engineError(message string, cause error) *Error {
	e := &Error{Code: CodeEngineError, Message: message}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}
