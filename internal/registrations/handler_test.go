package registrations_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/registrations"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// as stands in for the JWT middleware.
func as(p models.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetPrincipal(c, p)
		c.Next()
	}
}

func serve(t *testing.T, h gin.HandlerFunc, p models.Principal, method, route, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Handle(method, route, as(p), h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHandler_Register(t *testing.T) {
	f := newFixture(t)
	h := registrations.NewHandler(f.svc, zaptest.NewLogger(t))
	ev := f.event(t, 1)
	a, b := f.student("a", "R1"), f.student("b", "R2")
	route := "/registrations/:eventId"

	w := serve(t, h.Register, a, http.MethodPost, route, "/registrations/"+ev.ID.String())
	require.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Registration models.Registration `json:"registration"`
		Token        string              `json:"token"`
		QRCodeImage  string              `json:"qr_code_image"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &body))
	assert.Equal(t, a.UserID, body.Registration.StudentID)
	assert.Equal(t, body.Registration.Token, body.Token)
	assert.True(t, strings.HasPrefix(body.QRCodeImage, "data:image/png;base64,"))

	tests := []struct {
		name   string
		p      models.Principal
		target string
		code   int
	}{
		{"duplicate", a, "/registrations/" + ev.ID.String(), http.StatusBadRequest},
		{"full", b, "/registrations/" + ev.ID.String(), http.StatusBadRequest},
		{"bad id", b, "/registrations/not-a-uuid", http.StatusBadRequest},
		{"unknown event", b, "/registrations/" + uuid.NewString(), http.StatusNotFound},
		{"admin", f.admin, "/registrations/" + ev.ID.String(), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, h.Register, tt.p, http.MethodPost, route, tt.target)
			assert.Equal(t, tt.code, w.Code)
			assert.False(t, decode(t, w).Success)
		})
	}
}

func TestHandler_Export(t *testing.T) {
	f := newFixture(t)
	h := registrations.NewHandler(f.svc, zaptest.NewLogger(t))
	ev := f.event(t, 5)
	route := "/registrations/export/:eventId"
	target := "/registrations/export/" + ev.ID.String()

	w := serve(t, h.Export, f.admin, http.MethodGet, route, target)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := f.svc.Register(context.Background(), f.student("a", "R1"), ev.ID)
	require.NoError(t, err)

	w = serve(t, h.Export, f.admin, http.MethodGet, route, target)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "registrations-"+ev.ID.String()+".csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Name,Email,RollNumber,RegisteredAt,Status", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",Pending"))

	w = serve(t, h.Export, f.student("b", "R2"), http.MethodGet, route, target)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_QRCode(t *testing.T) {
	f := newFixture(t)
	h := registrations.NewHandler(f.svc, zaptest.NewLogger(t))
	ev := f.event(t, 5)
	a, b := f.student("a", "R1"), f.student("b", "R2")
	res, err := f.svc.Register(context.Background(), a, ev.ID)
	require.NoError(t, err)

	route := "/registrations/pass/:id/qr.png"
	target := "/registrations/pass/" + res.Registration.ID.String() + "/qr.png"

	w := serve(t, h.QRCode, a, http.MethodGet, route, target)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", w.Body.String()[:4])

	w = serve(t, h.QRCode, b, http.MethodGet, route, target)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_MyRegistrationsAndCancel(t *testing.T) {
	f := newFixture(t)
	h := registrations.NewHandler(f.svc, zaptest.NewLogger(t))
	ev := f.event(t, 5)
	a := f.student("a", "R1")

	w := serve(t, h.MyRegistrations, a, http.MethodGet, "/registrations/my-registrations", "/registrations/my-registrations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(decode(t, w).Data))

	_, err := f.svc.Register(context.Background(), a, ev.ID)
	require.NoError(t, err)

	w = serve(t, h.MyRegistrations, a, http.MethodGet, "/registrations/my-registrations", "/registrations/my-registrations")
	require.Equal(t, http.StatusOK, w.Code)
	var list []registrations.PassView
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, ev.ID, list[0].Event.ID)
	assert.NotEmpty(t, list[0].QRCodeImage)

	w = serve(t, h.Cancel, a, http.MethodDelete, "/registrations/:eventId", "/registrations/"+ev.ID.String())
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(t, h.Cancel, a, http.MethodDelete, "/registrations/:eventId", "/registrations/"+ev.ID.String())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RegisterTimeout(t *testing.T) {
	f := newFixture(t)
	ev := f.event(t, 5)
	svc := registrations.NewService(blockingStore{f.db.Registrations()}, f.db.Events(), f.codec, nil, 10*time.Millisecond, zaptest.NewLogger(t))
	h := registrations.NewHandler(svc, zaptest.NewLogger(t))

	w := serve(t, h.Register, f.student("a", "R1"), http.MethodPost, "/registrations/:eventId", "/registrations/"+ev.ID.String())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
