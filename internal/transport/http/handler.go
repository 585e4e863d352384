package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"drawing-service/internal/entity"
	"drawing-service/internal/repository/postgresql"
	"drawing-service/internal/service"
)

// maxUploadBytes bounds the multipart form we are willing to buffer.
const maxUploadBytes = 20 << 20

type DrawingService interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID, caller service.Caller) (*entity.Drawing, error)
	OpenArtifact(ctx context.Context, id uuid.UUID, caller service.Caller) (io.ReadCloser, *entity.Drawing, error)
	Delete(ctx context.Context, id uuid.UUID, caller service.Caller) error
}

type Sessions interface {
	Issue(ctx context.Context) (string, error)
	Verify(ctx context.Context, token string) (bool, error)
}

type Handler struct {
	drawings DrawingService
	sessions Sessions
}

func NewHandler(drawings DrawingService, sessions Sessions) *Handler {
	return &Handler{drawings: drawings, sessions: sessions}
}

type enqueueResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type drawingResp struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Style               string  `json:"style"`
	Status              string  `json:"status"`
	FileURL             string  `json:"file_url,omitempty"`
	ErrorMessage        *string `json:"error_message,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
	ProcessingStartedAt *string `json:"processing_started_at,omitempty"`
	ExpiresAt           *string `json:"expires_at,omitempty"`
}

// UploadDrawing godoc
// @Summary Submit an image for vector conversion
// @Description Stores the image, creates the job record in queued state and returns its id immediately. Conversion happens asynchronously; poll GET /drawings/{id}.
// @Tags drawings
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "raster image"
// @Param name formData string true "drawing name"
// @Param style formData string true "conversion style (contour, anime, manga, sketch)"
// @Success 201 {object} enqueueResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /drawings [post]
func (h *Handler) UploadDrawing(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r, true)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "no file submitted")
		return
	}
	defer file.Close()

	id, err := h.drawings.Enqueue(r.Context(), service.EnqueueRequest{
		Name:     r.FormValue("name"),
		Style:    r.FormValue("style"),
		Image:    file,
		Filename: header.Filename,
		Caller:   caller,
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	DrawingsEnqueued.Inc()
	writeJSON(w, http.StatusCreated, enqueueResp{
		ID:     id.String(),
		Status: string(entity.StatusQueued),
	})
}

// GetDrawing godoc
// @Summary Poll a drawing's conversion status
// @Description Returns the current status. On complete the response carries a file URL, on failed the error message. Clients poll until a terminal status.
// @Tags drawings
// @Produce json
// @Param id path string true "drawing id (uuid)"
// @Success 200 {object} drawingResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /drawings/{id} [get]
func (h *Handler) GetDrawing(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.idAndCaller(w, r)
	if !ok {
		return
	}

	d, err := h.drawings.Get(r.Context(), id, caller)
	if err != nil {
		writeDrawingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDrawingResp(d))
}

// DownloadDrawing godoc
// @Summary Download the converted vector document
// @Tags drawings
// @Produce image/svg+xml
// @Param id path string true "drawing id (uuid)"
// @Success 200 {string} string "SVG document"
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /drawings/{id}/file [get]
func (h *Handler) DownloadDrawing(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.idAndCaller(w, r)
	if !ok {
		return
	}

	rc, d, err := h.drawings.OpenArtifact(r.Context(), id, caller)
	if err != nil {
		writeDrawingError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Name+".svg"))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// DeleteDrawing godoc
// @Summary Delete a drawing and its artifact
// @Tags drawings
// @Produce json
// @Param id path string true "drawing id (uuid)"
// @Success 200 {object} apiError
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /drawings/{id} [delete]
func (h *Handler) DeleteDrawing(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.idAndCaller(w, r)
	if !ok {
		return
	}

	if err := h.drawings.Delete(r.Context(), id, caller); err != nil {
		writeDrawingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiError{Message: fmt.Sprintf("drawing %s deleted", id)})
}

func (h *Handler) idAndCaller(w http.ResponseWriter, r *http.Request) (uuid.UUID, service.Caller, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, service.Caller{}, false
	}
	caller, ok := h.resolveCaller(w, r, false)
	if !ok {
		return uuid.Nil, service.Caller{}, false
	}
	return id, caller, true
}

// resolveCaller produces the owner reference for this request. A registered
// identity arrives as X-User-ID (authenticated upstream); otherwise the guest
// session token in X-Session-ID is verified. On upload a missing or unknown
// token gets a fresh session, echoed back in the response header.
func (h *Handler) resolveCaller(w http.ResponseWriter, r *http.Request, issueIfMissing bool) (service.Caller, bool) {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return service.Caller{UserID: userID}, true
	}

	token := r.Header.Get("X-Session-ID")
	if token != "" {
		valid, err := h.sessions.Verify(r.Context(), token)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "session check failed")
			return service.Caller{}, false
		}
		if valid {
			return service.Caller{SessionID: token}, true
		}
	}

	if !issueIfMissing {
		writeErr(w, http.StatusUnauthorized, "a valid session or user identity is required")
		return service.Caller{}, false
	}

	token, err := h.sessions.Issue(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "could not create guest session")
		return service.Caller{}, false
	}
	w.Header().Set("X-Session-ID", token)
	return service.Caller{SessionID: token}, true
}

// writeDrawingError maps service errors to status codes. Ownership failures
// return a generic 401 so nothing about the drawing leaks.
func writeDrawingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postgresql.ErrNotFound):
		writeErr(w, http.StatusNotFound, "drawing not found")
	case errors.Is(err, service.ErrUnauthorized):
		writeErr(w, http.StatusUnauthorized, "not authorised to access this drawing")
	case errors.Is(err, service.ErrNotReady):
		writeErr(w, http.StatusConflict, "drawing is not complete")
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

func toDrawingResp(d *entity.Drawing) drawingResp {
	resp := drawingResp{
		ID:           d.ID.String(),
		Name:         d.Name,
		Style:        d.Style,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    d.UpdatedAt.Format(time.RFC3339),
	}
	if d.Status == entity.StatusComplete {
		resp.FileURL = "/drawings/" + d.ID.String() + "/file"
	}
	if d.ProcessingStartedAt != nil {
		s := d.ProcessingStartedAt.Format(time.RFC3339)
		resp.ProcessingStartedAt = &s
	}
	if d.ExpiresAt != nil {
		s := d.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	return resp
}
