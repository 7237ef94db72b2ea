package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"videoseg/internal/overlay"
	"videoseg/internal/platform/metrics"
	"videoseg/internal/session"
	"videoseg/internal/video"
)

// Settings carries the upload and extraction limits the handler enforces.
type Settings struct {
	TmpDir         string
	MaxDurationSec float64
	MaxFrames      int
}

// UploadsDir is where raw uploads land.
func (s Settings) UploadsDir() string { return filepath.Join(s.TmpDir, "uploads") }

// FramesDir is the parent of per-session extracted frame directories.
func (s Settings) FramesDir() string { return filepath.Join(s.TmpDir, "frames") }

// EnsureDirectories creates the working directories.
func (s Settings) EnsureDirectories() error {
	for _, dir := range []string{s.UploadsDir(), s.FramesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the session HTTP endpoints.
type Handler struct {
	coord    *session.Coordinator
	log      *slog.Logger
	metrics  *metrics.Metrics
	settings Settings
}

// NewHandler returns a Handler for the given coordinator. Metrics may be nil
// to disable metric recording (e.g. in tests).
func NewHandler(coord *session.Coordinator, log *slog.Logger, m *metrics.Metrics, settings Settings) *Handler {
	return &Handler{coord: coord, log: log, metrics: m, settings: settings}
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadVideo handles POST /api/videos/upload: saves the multipart file,
// probes and extracts frames, and activates a session, tearing down any
// prior one.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "Multipart field \"file\" is required", Details: err.Error()})
		return
	}
	defer file.Close()

	filename := header.Filename
	if filename == "" {
		filename = "upload.mp4"
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	if !video.AllowedExts[ext] {
		h.writeError(w, r, &session.Error{
			Code:    session.CodeBadRequest,
			Message: fmt.Sprintf("Unsupported extension %q", ext),
		})
		return
	}

	videoID := uuid.NewString()
	uploadPath := filepath.Join(h.settings.UploadsDir(), videoID+ext)
	if err := saveUpload(file, uploadPath); err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeVideoProcessing, Message: "Failed to save upload", Details: err.Error()})
		return
	}

	resp, err := h.startSessionFromVideo(r, uploadPath)
	if err != nil {
		video.Cleanup(uploadPath)
		h.writeError(w, r, asTyped(err))
		return
	}

	if h.metrics != nil {
		h.metrics.IncSessionsCreated()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// startSessionFromVideo probes, extracts, and activates a session from a
// video file on disk.
func (h *Handler) startSessionFromVideo(r *http.Request, uploadPath string) (UploadResponse, error) {
	ctx := r.Context()

	meta, err := video.Probe(ctx, uploadPath)
	if err != nil {
		return UploadResponse{}, &session.Error{Code: session.CodeVideoProcessing, Message: "Failed to probe video", Details: err.Error()}
	}
	if meta.DurationSec > h.settings.MaxDurationSec {
		return UploadResponse{}, &session.Error{
			Code:    session.CodeVideoTooLong,
			Message: fmt.Sprintf("Video duration %.2fs exceeds max %.2fs", meta.DurationSec, h.settings.MaxDurationSec),
		}
	}

	processingFPS := video.ComputeProcessingFPS(meta.FPS, meta.DurationSec, h.settings.MaxFrames)
	sessionID := uuid.NewString()
	framesDir := filepath.Join(h.settings.FramesDir(), sessionID)

	if err := video.ExtractFrames(ctx, uploadPath, framesDir, processingFPS, h.settings.MaxFrames); err != nil {
		video.Cleanup(framesDir)
		return UploadResponse{}, &session.Error{Code: session.CodeVideoProcessing, Message: "Failed to extract frames", Details: err.Error()}
	}
	numFrames, err := video.CountFrames(framesDir)
	if err != nil || numFrames <= 0 {
		video.Cleanup(framesDir)
		return UploadResponse{}, &session.Error{Code: session.CodeVideoProcessing, Message: "No frames were extracted from video"}
	}

	width, height := meta.Width, meta.Height
	if firstFrame, err := video.FramePath(framesDir, 0); err == nil {
		if w, h2, err := video.ProbeImageSize(ctx, firstFrame); err == nil {
			width, height = w, h2
		}
	}

	record, err := h.coord.Create(ctx, session.Record{
		SessionID:         sessionID,
		UploadPath:        uploadPath,
		FramesDir:         framesDir,
		NumFrames:         numFrames,
		Width:             width,
		Height:            height,
		SourceFPS:         meta.FPS,
		ProcessingFPS:     processingFPS,
		SourceDurationSec: meta.DurationSec,
	})
	if err != nil {
		video.Cleanup(framesDir)
		return UploadResponse{}, err
	}

	return UploadResponse{
		SessionID:           record.SessionID,
		NumFrames:           record.NumFrames,
		Width:               record.Width,
		Height:              record.Height,
		SourceFPS:           record.SourceFPS,
		ProcessingFPS:       record.ProcessingFPS,
		SourceDurationSec:   record.SourceDurationSec,
		ProcessingNumFrames: record.NumFrames,
	}, nil
}

// GetFrame handles GET /api/sessions/{session_id}/frames/{frame_index}.jpg.
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	frameIndex, err := strconv.Atoi(strings.TrimSuffix(chi.URLParam(r, "frame"), ".jpg"))
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeInvalidFrameIndex, Message: "Frame index must be an integer"})
		return
	}

	record, reqErr := h.coord.Require(sessionID)
	if reqErr != nil {
		h.writeError(w, r, asTyped(reqErr))
		return
	}
	if err := h.coord.ValidateFrameIndex(sessionID, frameIndex); err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}

	path, err := video.FramePath(record.FramesDir, frameIndex)
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeInvalidFrameIndex, Message: "Frame image not found on disk"})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// GetOverlayFrame handles GET /api/sessions/{session_id}/frames/{frame_index}/overlay.jpg:
// the stored frame with every visible object's cached mask composited onto it.
// Objects whose masks fail to decode are skipped so the rest still renders.
func (h *Handler) GetOverlayFrame(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	frameIndex, err := strconv.Atoi(chi.URLParam(r, "frame"))
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeInvalidFrameIndex, Message: "Frame index must be an integer"})
		return
	}

	record, reqErr := h.coord.Require(sessionID)
	if reqErr != nil {
		h.writeError(w, r, asTyped(reqErr))
		return
	}
	if err := h.coord.ValidateFrameIndex(sessionID, frameIndex); err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}

	path, err := video.FramePath(record.FramesDir, frameIndex)
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeInvalidFrameIndex, Message: "Frame image not found on disk"})
		return
	}
	f, err := os.Open(path)
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeInternal, Message: "Failed to open frame image", Details: err.Error()})
		return
	}
	frame, err := jpeg.Decode(f)
	f.Close()
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeInternal, Message: "Failed to decode frame image", Details: err.Error()})
		return
	}

	objects, _ := h.coord.FrameObjects(sessionID, frameIndex)
	layers := make([]overlay.Layer, 0, len(objects))
	for _, obj := range objects {
		layers = append(layers, overlay.Layer{ObjID: obj.ObjID, Mask: obj.MaskRLE})
	}
	registry, err := h.coord.Objects(sessionID)
	if err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	visible := make(map[int]bool, len(registry))
	for _, obj := range registry {
		visible[obj.ObjID] = obj.Visible
	}

	rendered, skipped := overlay.Render(frame, layers,
		func(objID int) overlay.Color { return overlay.ParseHex(session.ColorFor(objID)) },
		func(objID int) bool { return visible[objID] },
		overlay.Markers{})
	for _, layerErr := range skipped {
		h.log.Warn("mask decode failed, layer skipped",
			slog.String("session_id", sessionID),
			slog.Int("frame_index", frameIndex),
			slog.Int("obj_id", layerErr.ObjID),
			slog.String("error", layerErr.Err.Error()))
	}

	w.Header().Set("Content-Type", "image/jpeg")
	if err := jpeg.Encode(w, rendered, &jpeg.Options{Quality: 90}); err != nil {
		h.log.Debug("overlay encode failed", slog.String("error", err.Error()))
	}
}

// PromptText handles POST /api/sessions/{session_id}/prompt/text.
func (h *Handler) PromptText(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req TextPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "Invalid request payload", Details: err.Error()})
		return
	}
	resetFirst := true
	if req.ResetFirst != nil {
		resetFirst = *req.ResetFirst
	}

	res, err := h.coord.PromptText(r.Context(), sessionID, req.FrameIndex, req.Text, resetFirst)
	if err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	if h.metrics != nil {
		h.metrics.IncPrompts("text")
	}
	h.writeJSON(w, http.StatusOK, PromptResponse{FrameIndex: res.FrameIndex, Objects: res.Objects})
}

// PromptClicks handles POST /api/sessions/{session_id}/prompt/clicks.
func (h *Handler) PromptClicks(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req ClickPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "Invalid request payload", Details: err.Error()})
		return
	}

	res, err := h.coord.PromptClicks(r.Context(), sessionID, req.FrameIndex, req.ObjID, req.Points)
	if err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	if h.metrics != nil {
		h.metrics.IncPrompts("clicks")
	}
	h.writeJSON(w, http.StatusOK, PromptResponse{FrameIndex: res.FrameIndex, Objects: res.Objects})
}

// CreateObject handles POST /api/sessions/{session_id}/objects.
func (h *Handler) CreateObject(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	obj, err := h.coord.CreateObject(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	h.writeJSON(w, http.StatusOK, CreateObjectResponse{ObjID: obj.ObjID})
}

// ListObjects handles GET /api/sessions/{session_id}/objects.
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	objects, err := h.coord.Objects(sessionID)
	if err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	h.writeJSON(w, http.StatusOK, ObjectListResponse{Objects: objects})
}

// RemoveObject handles POST /api/sessions/{session_id}/objects/{obj_id}/remove.
func (h *Handler) RemoveObject(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	objID, err := strconv.Atoi(chi.URLParam(r, "obj_id"))
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "obj_id must be an integer"})
		return
	}

	if err := h.coord.RemoveObject(r.Context(), sessionID, objID); err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	h.writeJSON(w, http.StatusOK, OperationResponse{OK: true})
}

// RenameObject handles PATCH /api/sessions/{session_id}/objects/{obj_id}.
// Pure local metadata; the inference engine is not involved.
func (h *Handler) RenameObject(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	objID, err := strconv.Atoi(chi.URLParam(r, "obj_id"))
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "obj_id must be an integer"})
		return
	}

	var req RenameObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "Invalid request payload", Details: err.Error()})
		return
	}

	if err := h.coord.RenameObject(sessionID, objID, req.Field, req.Value); err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	h.writeJSON(w, http.StatusOK, OperationResponse{OK: true})
}

// SetObjectVisibility handles POST /api/sessions/{session_id}/objects/{obj_id}/visibility.
func (h *Handler) SetObjectVisibility(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	objID, err := strconv.Atoi(chi.URLParam(r, "obj_id"))
	if err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "obj_id must be an integer"})
		return
	}

	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &session.Error{Code: session.CodeBadRequest, Message: "Invalid request payload", Details: err.Error()})
		return
	}

	if err := h.coord.SetObjectVisible(sessionID, objID, req.Visible); err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	h.writeJSON(w, http.StatusOK, OperationResponse{OK: true})
}

// ResetSession handles POST /api/sessions/{session_id}/reset.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := h.coord.Reset(r.Context(), sessionID); err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	h.writeJSON(w, http.StatusOK, OperationResponse{OK: true})
}

// DeleteSession handles DELETE /api/sessions/{session_id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := h.coord.Close(r.Context(), sessionID); err != nil {
		h.writeError(w, r, asTyped(err))
		return
	}
	h.writeJSON(w, http.StatusOK, OperationResponse{OK: true})
}

func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug("response encode failed", slog.String("error", err.Error()))
	}
}

// asTyped normalizes any error into the taxonomy; unexpected errors become
// INTERNAL_ERROR with the cause preserved in details.
func asTyped(err error) *session.Error {
	var typed *session.Error
	if errors.As(err, &typed) {
		return typed
	}
	return &session.Error{Code: session.CodeInternal, Message: "Internal server error", Details: err.Error()}
}

// statusFor maps taxonomy codes onto HTTP statuses.
func statusFor(code session.Code) int {
	switch code {
	case session.CodeSessionNotFound:
		return http.StatusNotFound
	case session.CodeInvalidFrameIndex, session.CodeInvalidPoint, session.CodeInvalidDirection,
		session.CodeBadRequest, session.CodeVideoTooLong:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, e *session.Error) {
	if e.RequestID == "" {
		copied := *e
		copied.RequestID = requestIDFrom(r.Context())
		e = &copied
	}
	status := statusFor(e.Code)
	if status >= 500 {
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", string(e.Code)),
			slog.String("message", e.Message),
			slog.String("details", e.Details),
			slog.String("request_id", e.RequestID))
	} else {
		h.log.Info("request rejected",
			slog.String("path", r.URL.Path),
			slog.String("code", string(e.Code)),
			slog.String("message", e.Message),
			slog.String("request_id", e.RequestID))
	}
	if h.metrics != nil {
		h.metrics.IncErrors()
	}
	h.writeJSON(w, status, errorEnvelope{Detail: e})
}
