package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"drawing-service/internal/entity"
	"drawing-service/internal/repository/postgresql"
	"drawing-service/internal/service"
	httptransport "drawing-service/internal/transport/http"
)

// ---- fakes ----

type fakeDrawings struct {
	enqueueID  uuid.UUID
	enqueueErr error
	lastReq    service.EnqueueRequest

	drawings  map[uuid.UUID]*entity.Drawing
	artifacts map[uuid.UUID]string
	deleted   []uuid.UUID
}

func newFakeDrawings() *fakeDrawings {
	return &fakeDrawings{
		enqueueID: uuid.New(),
		drawings:  map[uuid.UUID]*entity.Drawing{},
		artifacts: map[uuid.UUID]string{},
	}
}

func (f *fakeDrawings) Enqueue(ctx context.Context, req service.EnqueueRequest) (uuid.UUID, error) {
	f.lastReq = req
	if f.enqueueErr != nil {
		return uuid.Nil, f.enqueueErr
	}
	return f.enqueueID, nil
}

func (f *fakeDrawings) Get(ctx context.Context, id uuid.UUID, caller service.Caller) (*entity.Drawing, error) {
	d, ok := f.drawings[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	if !owns(d, caller) {
		return nil, service.ErrUnauthorized
	}
	return d, nil
}

func (f *fakeDrawings) OpenArtifact(ctx context.Context, id uuid.UUID, caller service.Caller) (io.ReadCloser, *entity.Drawing, error) {
	d, err := f.Get(ctx, id, caller)
	if err != nil {
		return nil, nil, err
	}
	if d.Status != entity.StatusComplete {
		return nil, nil, service.ErrNotReady
	}
	return io.NopCloser(strings.NewReader(f.artifacts[id])), d, nil
}

func (f *fakeDrawings) Delete(ctx context.Context, id uuid.UUID, caller service.Caller) error {
	if _, err := f.Get(ctx, id, caller); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	delete(f.drawings, id)
	return nil
}

func owns(d *entity.Drawing, caller service.Caller) bool {
	if caller.UserID != "" {
		return d.UserID != nil && *d.UserID == caller.UserID
	}
	return d.SessionID != nil && *d.SessionID == caller.SessionID
}

type fakeSessions struct {
	issued []string
	known  map[string]bool
}

func newFakeSessions(known ...string) *fakeSessions {
	m := map[string]bool{}
	for _, k := range known {
		m[k] = true
	}
	return &fakeSessions{known: m}
}

func (s *fakeSessions) Issue(ctx context.Context) (string, error) {
	token := "guest_" + uuid.New().String()
	s.issued = append(s.issued, token)
	s.known[token] = true
	return token, nil
}

func (s *fakeSessions) Verify(ctx context.Context, token string) (bool, error) {
	return s.known[token], nil
}

// ---- helpers ----

func newTestRouter(drawings httptransport.DrawingService, sessions httptransport.Sessions) http.Handler {
	return httptransport.Routes(httptransport.NewHandler(drawings, sessions))
}

func uploadRequest(t *testing.T, fields map[string]string, filename string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte("fake image bytes"))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/drawings", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func guestDrawing(id uuid.UUID, sessionID string, status entity.DrawingStatus) *entity.Drawing {
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)
	return &entity.Drawing{
		ID:        id,
		Name:      "cat",
		Style:     "sketch",
		Status:    status,
		SessionID: &sessionID,
		IsGuest:   true,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expires,
	}
}

// ---- tests ----

func TestHTTP_Upload_201_IssuesGuestSession(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions()
	router := newTestRouter(drawings, sessions)

	req := uploadRequest(t, map[string]string{"name": "cat", "style": "sketch"}, "cat.png")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if resp.ID != drawings.enqueueID.String() {
		t.Fatalf("expected id=%s, got %s", drawings.enqueueID, resp.ID)
	}
	if resp.Status != "queued" {
		t.Fatalf("expected status=queued, got %s", resp.Status)
	}

	// a guest with no token gets one, echoed in the header
	token := rr.Header().Get("X-Session-ID")
	if token == "" || !strings.HasPrefix(token, "guest_") {
		t.Fatalf("expected issued guest session header, got %q", token)
	}
	if drawings.lastReq.Caller.SessionID != token {
		t.Fatalf("enqueue used caller %q, header says %q", drawings.lastReq.Caller.SessionID, token)
	}
	if drawings.lastReq.Name != "cat" || drawings.lastReq.Style != "sketch" {
		t.Fatalf("enqueue request fields wrong: %+v", drawings.lastReq)
	}
}

func TestHTTP_Upload_RegisteredUserSkipsSession(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions()
	router := newTestRouter(drawings, sessions)

	req := uploadRequest(t, map[string]string{"name": "cat", "style": "manga"}, "cat.png")
	req.Header.Set("X-User-ID", "user-42")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if drawings.lastReq.Caller.UserID != "user-42" {
		t.Fatalf("expected user caller, got %+v", drawings.lastReq.Caller)
	}
	if len(sessions.issued) != 0 {
		t.Fatalf("no session should be issued for a registered user, got %v", sessions.issued)
	}
}

func TestHTTP_Upload_MissingFile_400(t *testing.T) {
	router := newTestRouter(newFakeDrawings(), newFakeSessions())

	req := uploadRequest(t, map[string]string{"name": "cat", "style": "sketch"}, "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHTTP_Poll_CompleteCarriesFileURL(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions("guest_abc")
	id := uuid.New()
	d := guestDrawing(id, "guest_abc", entity.StatusComplete)
	artifact := "artifact-1"
	d.ArtifactID = &artifact
	drawings.drawings[id] = d
	router := newTestRouter(drawings, sessions)

	req := httptest.NewRequest(http.MethodGet, "/drawings/"+id.String(), nil)
	req.Header.Set("X-Session-ID", "guest_abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status  string `json:"status"`
		FileURL string `json:"file_url"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != "complete" {
		t.Fatalf("expected complete, got %s", resp.Status)
	}
	if resp.FileURL != "/drawings/"+id.String()+"/file" {
		t.Fatalf("unexpected file_url %q", resp.FileURL)
	}
}

func TestHTTP_Poll_FailedCarriesErrorMessage(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions("guest_abc")
	id := uuid.New()
	d := guestDrawing(id, "guest_abc", entity.StatusFailed)
	msg := "unsupported format"
	d.ErrorMessage = &msg
	drawings.drawings[id] = d
	router := newTestRouter(drawings, sessions)

	req := httptest.NewRequest(http.MethodGet, "/drawings/"+id.String(), nil)
	req.Header.Set("X-Session-ID", "guest_abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Status       string  `json:"status"`
		ErrorMessage *string `json:"error_message"`
		FileURL      string  `json:"file_url"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != "failed" {
		t.Fatalf("expected failed, got %s", resp.Status)
	}
	if resp.ErrorMessage == nil || !strings.Contains(*resp.ErrorMessage, "unsupported format") {
		t.Fatalf("expected error message, got %v", resp.ErrorMessage)
	}
	if resp.FileURL != "" {
		t.Fatalf("failed drawing must not expose a file url, got %q", resp.FileURL)
	}
}

func TestHTTP_Poll_OtherGuestsSession_401(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions("guest_owner", "guest_intruder")
	id := uuid.New()
	drawings.drawings[id] = guestDrawing(id, "guest_owner", entity.StatusComplete)
	router := newTestRouter(drawings, sessions)

	req := httptest.NewRequest(http.MethodGet, "/drawings/"+id.String(), nil)
	req.Header.Set("X-Session-ID", "guest_intruder")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "cat") {
		t.Fatalf("response leaks drawing contents: %s", rr.Body.String())
	}
}

func TestHTTP_Poll_UnknownToken_401(t *testing.T) {
	router := newTestRouter(newFakeDrawings(), newFakeSessions())

	req := httptest.NewRequest(http.MethodGet, "/drawings/"+uuid.New().String(), nil)
	req.Header.Set("X-Session-ID", "guest_forged")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHTTP_Poll_NotFound_404(t *testing.T) {
	router := newTestRouter(newFakeDrawings(), newFakeSessions("guest_abc"))

	req := httptest.NewRequest(http.MethodGet, "/drawings/"+uuid.New().String(), nil)
	req.Header.Set("X-Session-ID", "guest_abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHTTP_Download_StreamsSVG(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions("guest_abc")
	id := uuid.New()
	d := guestDrawing(id, "guest_abc", entity.StatusComplete)
	artifact := "artifact-1"
	d.ArtifactID = &artifact
	drawings.drawings[id] = d
	drawings.artifacts[id] = `<svg><path id="path_1" d="M0,0"/></svg>`
	router := newTestRouter(drawings, sessions)

	req := httptest.NewRequest(http.MethodGet, "/drawings/"+id.String()+"/file", nil)
	req.Header.Set("X-Session-ID", "guest_abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Fatalf("expected svg content type, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), `id="path_1"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "cat.svg") {
		t.Fatalf("expected attachment filename, got %q", cd)
	}
}

func TestHTTP_Download_NotComplete_409(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions("guest_abc")
	id := uuid.New()
	drawings.drawings[id] = guestDrawing(id, "guest_abc", entity.StatusProcessing)
	router := newTestRouter(drawings, sessions)

	req := httptest.NewRequest(http.MethodGet, "/drawings/"+id.String()+"/file", nil)
	req.Header.Set("X-Session-ID", "guest_abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestHTTP_Delete_200(t *testing.T) {
	drawings := newFakeDrawings()
	sessions := newFakeSessions("guest_abc")
	id := uuid.New()
	drawings.drawings[id] = guestDrawing(id, "guest_abc", entity.StatusComplete)
	router := newTestRouter(drawings, sessions)

	req := httptest.NewRequest(http.MethodDelete, "/drawings/"+id.String(), nil)
	req.Header.Set("X-Session-ID", "guest_abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(drawings.deleted) != 1 || drawings.deleted[0] != id {
		t.Fatalf("expected delete of %s, got %v", id, drawings.deleted)
	}
}

func TestHTTP_Health(t *testing.T) {
	router := newTestRouter(newFakeDrawings(), newFakeSessions())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rr.Code, rr.Body.String())
	}
}
