package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/media-ingest/internal/content"
	"github.com/maauso/media-ingest/internal/media"
	"github.com/maauso/media-ingest/internal/pipeline"
	"github.com/maauso/media-ingest/internal/quota"
	"github.com/maauso/media-ingest/internal/upload"
)

// Identity headers set by the upstream gateway.
const (
	HeaderOwnerID   = "X-Owner-ID"
	HeaderOwnerRole = "X-Owner-Role"
)

const (
	defaultMaxUploadBytes = 256 << 20
	multipartMemory       = 8 << 20
)

// Pipeline is the part of pipeline.Service the handlers use.
type Pipeline interface {
	Submit(ctx context.Context, sub pipeline.Submission) (*pipeline.Task, error)
	GetTask(ctx context.Context, taskID string) (*pipeline.Task, error)
	Subscribe(ctx context.Context, taskID string) (<-chan upload.Event, func(), error)
	Cancel(ctx context.Context, taskID string) error
	SupplyReplacement(ctx context.Context, taskID string, asset media.Asset, ownedPaths []string) error
	Active() int
}

// Intake stores uploaded request bodies as local temp files.
// storage.LocalStorage satisfies it.
type Intake interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

var _ Pipeline = (*pipeline.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        Pipeline
	intake         Intake
	prober         media.Prober
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithProber enables duration probing of uploaded audio and video.
func WithProber(p media.Prober) HandlerOption {
	return func(h *Handlers) {
		h.prober = p
	}
}

// WithMaxUploadBytes bounds the request body of media uploads.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service Pipeline, intake Intake, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		intake:         intake,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Active: h.service.Active()})
}

// CreateSubmission handles POST /submissions requests. The body is either a
// JSON SubmissionRequest (text-only content) or a multipart form with a
// "meta" JSON part and an optional "media" file.
func (h *Handlers) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var (
		req   SubmissionRequest
		asset *media.Asset
		owned []string
	)

	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.badBody(w, err)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		if err := json.Unmarshal([]byte(r.FormValue("meta")), &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid meta JSON", "INVALID_JSON")
			return
		}
		if !h.validRequest(w, req) {
			return
		}

		a, path, err := h.receiveMedia(r, media.Kind(req.MediaKind))
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			h.logger.Error("failed to receive media", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to receive media", "MEDIA_INTAKE_FAILED")
			return
		default:
			asset = &a
			owned = []string{path}
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
		if !h.validRequest(w, req) {
			return
		}
	}

	task, err := h.service.Submit(r.Context(), pipeline.Submission{
		FormID: req.FormID,
		Role:   quota.Role(owner.Role),
		Draft: content.Draft{
			Type:     content.Type(req.Type),
			OwnerID:  owner.ID,
			Title:    req.Title,
			Author:   req.Author,
			Caption:  req.Caption,
			Showcase: req.Showcase,
		},
		Asset:      asset,
		OwnedPaths: owned,
	})
	if err != nil {
		h.writeServiceError(w, err, "")
		return
	}

	h.logger.Info("submission accepted",
		slog.String("task_id", task.ID),
		slog.String("owner_id", owner.ID),
		slog.String("type", req.Type),
	)
	writeJSON(w, http.StatusAccepted, SubmissionResponse{ID: task.ID, State: string(task.State)})
}

// GetSubmission handles GET /submissions/{id} requests.
func (h *Handlers) GetSubmission(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// StreamSubmission handles GET /submissions/{id}/events requests with a
// Server-Sent Events stream of progress events ending in one result event.
func (h *Handlers) StreamSubmission(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	events, stop, err := h.service.Subscribe(r.Context(), task.ID)
	if err != nil {
		h.writeServiceError(w, err, task.ID)
		return
	}
	defer stop()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("event stream closed by client",
					slog.String("task_id", task.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			_ = rc.Flush()
		}
	}
}

// SupplyReplacement handles POST /submissions/{id}/replacement requests with
// a multipart "media" file that replaces an asset needing an external step.
func (h *Handlers) SupplyReplacement(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.badBody(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	declared := media.Kind(r.FormValue("media_kind"))
	if declared != "" && !declared.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown media_kind", "VALIDATION_ERROR")
		return
	}

	asset, path, err := h.receiveMedia(r, declared)
	if errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "media file is required", "MISSING_MEDIA")
		return
	}
	if err != nil {
		h.logger.Error("failed to receive replacement media",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to receive media", "MEDIA_INTAKE_FAILED")
		return
	}

	if err := h.service.SupplyReplacement(r.Context(), task.ID, asset, []string{path}); err != nil {
		h.writeServiceError(w, err, task.ID)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmissionResponse{ID: task.ID, State: string(pipeline.StateValidating)})
}

// CancelSubmission handles DELETE /submissions/{id} requests.
func (h *Handlers) CancelSubmission(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), task.ID); err != nil {
		h.writeServiceError(w, err, task.ID)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmissionResponse{ID: task.ID, State: string(task.State)})
}

// owner reads and validates the identity headers.
func (h *Handlers) owner(w http.ResponseWriter, r *http.Request) (ownerHeaders, bool) {
	o := ownerHeaders{
		ID:   r.Header.Get(HeaderOwnerID),
		Role: r.Header.Get(HeaderOwnerRole),
	}
	if err := h.validator.Struct(o); err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid owner identity", "UNAUTHENTICATED")
		return o, false
	}
	return o, true
}

// ownedTask loads the task named in the path. Tasks of other owners are
// reported as not found.
func (h *Handlers) ownedTask(w http.ResponseWriter, r *http.Request) (*pipeline.Task, bool) {
	owner, ok := h.owner(w, r)
	if !ok {
		return nil, false
	}
	taskID := r.PathValue("id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required", "MISSING_TASK_ID")
		return nil, false
	}

	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err, taskID)
		return nil, false
	}
	if task.OwnerID != owner.ID {
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
		return nil, false
	}
	return task, true
}

func (h *Handlers) validRequest(w http.ResponseWriter, req SubmissionRequest) bool {
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// receiveMedia copies the "media" file into a temp file and inspects it.
// A file whose kind cannot be determined is still returned so validation can
// reject it. Returns http.ErrMissingFile when the request has no media.
func (h *Handlers) receiveMedia(r *http.Request, declared media.Kind) (media.Asset, string, error) {
	file, header, err := r.FormFile("media")
	if err != nil {
		return media.Asset{}, "", err
	}
	defer func() { _ = file.Close() }()

	path, err := h.intake.SaveTemp(r.Context(), header.Filename, file)
	if err != nil {
		return media.Asset{}, "", fmt.Errorf("save media: %w", err)
	}

	asset, err := media.Inspect(r.Context(), path, declared, h.prober, h.logger)
	switch {
	case errors.Is(err, media.ErrUnknownKind):
		return media.Asset{LocalPath: path, SizeBytes: header.Size, MIMEType: header.Header.Get("Content-Type")}, path, nil
	case err != nil:
		_ = h.intake.CleanupTemp(context.WithoutCancel(r.Context()), []string{path})
		return media.Asset{}, "", fmt.Errorf("inspect media: %w", err)
	}
	return asset, path, nil
}

func (h *Handlers) badBody(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
		return
	}
	h.logger.Warn("failed to parse multipart body", slog.String("error", err.Error()))
	writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
}

// writeServiceError maps pipeline errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, taskID string) {
	switch {
	case errors.Is(err, pipeline.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
	case errors.Is(err, pipeline.ErrInvalidSubmission):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SUBMISSION")
	case errors.Is(err, pipeline.ErrFormBusy):
		writeError(w, http.StatusConflict, "an upload is already in progress for this form", "FORM_BUSY")
	case errors.Is(err, pipeline.ErrTransferInFlight):
		writeError(w, http.StatusConflict, "the upload has started and can no longer be cancelled", "TRANSFER_IN_FLIGHT")
	case errors.Is(err, pipeline.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, "task already finished", "ALREADY_FINISHED")
	case errors.Is(err, pipeline.ErrNotAwaitingReplacement):
		writeError(w, http.StatusConflict, "task is not waiting for a replacement", "NOT_AWAITING_REPLACEMENT")
	default:
		h.logger.Error("pipeline request failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func toTaskResponse(t *pipeline.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		FormID:      t.FormID,
		Type:        string(t.ContentType),
		State:       string(t.State),
		Terminal:    t.State.IsTerminal(),
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxRetries + 1,
		Progress:    t.Progress,
		MediaRef:    t.ResultRef,
		RecordID:    t.RecordID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.Failure != nil {
		resp.Error = &FailureResponse{
			Kind:    string(t.Failure.Kind),
			Reason:  t.Failure.Reason,
			Message: t.Failure.Message(),
		}
	}
	return resp
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// writeEvent writes one Server-Sent Event.
func writeEvent(w io.Writer, ev upload.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
