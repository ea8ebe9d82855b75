package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/memstore"
	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
)

type sent struct {
	role    models.Role
	eventID uuid.UUID
	n       notifications.Notice
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sent
}

func (b *recordingBroadcaster) ToUsers([]uuid.UUID, notifications.Notice) {}

func (b *recordingBroadcaster) ToRole(role models.Role, n notifications.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{role: role, n: n})
}

func (b *recordingBroadcaster) ToAttendees(eventID uuid.UUID, n notifications.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{eventID: eventID, n: n})
}

type fakeUploader struct {
	keys []string
	err  error
}

func (u *fakeUploader) UploadImage(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	u.keys = append(u.keys, key+"|"+contentType)
	return "https://media.example.com/" + key, nil
}

type harness struct {
	db     *memstore.DB
	bc     *recordingBroadcaster
	posts  *fakeUploader
	router *gin.Engine
	admin  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{db: memstore.New(), bc: &recordingBroadcaster{}, posts: &fakeUploader{}, admin: uuid.New()}
	handler := events.NewHandler(h.db.Events(), h.posts, h.bc, time.Second, zaptest.NewLogger(t))

	r := gin.New()
	r.Use(func(c *gin.Context) { middleware.SetPrincipal(c, models.Principal{UserID: h.admin, Role: models.RoleAdmin}) })
	r.GET("/events", handler.List)
	r.GET("/events/:id", handler.GetByID)
	r.POST("/events", handler.Create)
	r.PUT("/events/:id", handler.Update)
	r.DELETE("/events/:id", handler.Delete)
	r.POST("/events/:id/poster", handler.UploadPoster)
	h.router = r
	return h
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(w, req)
	return w
}

func data[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func TestCreate(t *testing.T) {
	h := newHarness(t)
	future := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"ok", `{"title":"Fest","description":"Annual","date":"` + future + `","venue":"Ground","capacity":100}`, http.StatusCreated},
		{"missing title", `{"description":"Annual","date":"` + future + `","venue":"Ground","capacity":100}`, http.StatusBadRequest},
		{"zero capacity", `{"title":"Fest","description":"Annual","date":"` + future + `","venue":"Ground","capacity":0}`, http.StatusBadRequest},
		{"bad date", `{"title":"Fest","description":"Annual","date":"tomorrow","venue":"Ground","capacity":100}`, http.StatusBadRequest},
		{"past date", `{"title":"Fest","description":"Annual","date":"` + past + `","venue":"Ground","capacity":100}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, h.do(http.MethodPost, "/events", tt.body).Code)
		})
	}

	list, err := h.db.Events().List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	e := list[0]
	assert.Equal(t, models.EventStatusUpcoming, e.Status)
	assert.Equal(t, 0, e.CurrentRegistrations)
	assert.Equal(t, h.admin, e.CreatedBy)

	require.Len(t, h.bc.sent, 1)
	assert.Equal(t, models.RoleStudent, h.bc.sent[0].role)
	assert.Equal(t, models.NotificationNewEvent, h.bc.sent[0].n.Type)
	assert.Equal(t, &e.ID, h.bc.sent[0].n.EventID)
}

func TestListAndGet(t *testing.T) {
	h := newHarness(t)
	up := h.db.Events().Put(models.Event{Title: "Soon", Date: time.Now().Add(time.Hour), Capacity: 5, Status: models.EventStatusUpcoming})
	h.db.Events().Put(models.Event{Title: "Now", Date: time.Now().Add(-time.Hour), Capacity: 5, Status: models.EventStatusOngoing})

	w := h.do(http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data[[]models.Event](t, w), 2)

	w = h.do(http.MethodGet, "/events?status=upcoming", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := data[[]models.Event](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, up.ID, list[0].ID)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/events?status=cancelled", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/events/"+up.ID.String(), "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/events/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/events/nope", "").Code)
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)
	e := h.db.Events().Put(models.Event{
		Title: "Fest", Date: time.Now().Add(48 * time.Hour), Venue: "Ground", Capacity: 10, CurrentRegistrations: 4,
		Status: models.EventStatusUpcoming,
	})
	target := "/events/" + e.ID.String()

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, target, `{"capacity":3}`).Code)
	assert.Empty(t, h.bc.sent)

	w := h.do(http.MethodPut, target, `{"venue":"Auditorium","capacity":4,"status":"completed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	got := data[models.Event](t, w)
	assert.Equal(t, "Auditorium", got.Venue)
	assert.Equal(t, 4, got.Capacity)
	assert.Equal(t, "Fest", got.Title)
	assert.Equal(t, models.EventStatusUpcoming, got.Status, "status is not writable")
	assert.Equal(t, 4, got.CurrentRegistrations)

	require.Len(t, h.bc.sent, 1)
	assert.Equal(t, e.ID, h.bc.sent[0].eventID)
	assert.Equal(t, models.NotificationEventUpdate, h.bc.sent[0].n.Type)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPut, "/events/"+uuid.NewString(), `{"venue":"x"}`).Code)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	e := h.db.Events().Put(models.Event{Title: "Fest", Date: time.Now().Add(time.Hour), Capacity: 10, Status: models.EventStatusUpcoming})
	ctx := context.Background()
	require.NoError(t, h.db.Registrations().Insert(ctx, &models.Registration{StudentID: uuid.New(), EventID: e.ID, Token: "t"}))
	eventID := e.ID
	require.NoError(t, h.db.Notifications().Insert(ctx, &models.Notification{UserID: uuid.New(), Message: "m", Type: models.NotificationOther, EventID: &eventID}))

	assert.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/events/"+e.ID.String(), "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/events/"+e.ID.String(), "").Code)
	assert.Equal(t, 0, h.db.Registrations().Count(e.ID))
	assert.True(t, h.db.Notifications().ListByEvent(e.ID)[0].Deleted)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/events/"+e.ID.String(), "").Code)
}

func multipartPoster(t *testing.T, field, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadPoster(t *testing.T) {
	h := newHarness(t)
	e := h.db.Events().Put(models.Event{Title: "Fest", Date: time.Now().Add(time.Hour), Capacity: 10, Status: models.EventStatusUpcoming})

	upload := func(id, field, filename string) *httptest.ResponseRecorder {
		body, ct := multipartPoster(t, field, filename)
		req := httptest.NewRequest(http.MethodPost, "/events/"+id+"/poster", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		h.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, upload(e.ID.String(), "file", "fest.png").Code)
	assert.Equal(t, http.StatusBadRequest, upload(e.ID.String(), "poster", "fest.pdf").Code)
	assert.Equal(t, http.StatusNotFound, upload(uuid.NewString(), "poster", "fest.png").Code)

	w := upload(e.ID.String(), "poster", "fest.png")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, h.posts.keys, 1)
	assert.Contains(t, h.posts.keys[0], "|image/png")

	got, err := h.db.Events().GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Contains(t, got.PosterURL, "https://media.example.com/posters/"+e.ID.String())

	h.posts.err = errors.New("s3 down")
	assert.Equal(t, http.StatusInternalServerError, upload(e.ID.String(), "poster", "fest.png").Code)
}
