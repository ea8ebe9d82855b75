package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuspass/backend/internal/memstore"
	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
)

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := memstore.New().Notifications()
	me, other := uuid.New(), uuid.New()

	mine := &models.Notification{UserID: me, Message: "first", Type: models.NotificationNewEvent}
	require.NoError(t, store.Insert(ctx, mine))
	require.NoError(t, store.Insert(ctx, &models.Notification{UserID: me, Message: "second", Type: models.NotificationReminder}))
	theirs := &models.Notification{UserID: other, Message: "not yours", Type: models.NotificationOther}
	require.NoError(t, store.Insert(ctx, theirs))

	h := notifications.NewHandler(store, zaptest.NewLogger(t))
	r := gin.New()
	r.Use(func(c *gin.Context) { middleware.SetPrincipal(c, models.Principal{UserID: me, Role: models.RoleStudent}) })
	r.GET("/notifications", h.List)
	r.PATCH("/notifications/read-all", h.MarkAllRead)
	r.PATCH("/notifications/:id/read", h.MarkRead)

	do := func(method, target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
		return w
	}

	w := do(http.MethodGet, "/notifications")
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []models.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Len(t, env.Data, 2)

	assert.Equal(t, http.StatusOK, do(http.MethodPatch, "/notifications/"+mine.ID.String()+"/read").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPatch, "/notifications/"+theirs.ID.String()+"/read").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPatch, "/notifications/nope/read").Code)

	w = do(http.MethodPatch, "/notifications/read-all")
	require.Equal(t, http.StatusOK, w.Code)
	list, err := store.ListByUser(ctx, me)
	require.NoError(t, err)
	for _, n := range list {
		assert.True(t, n.Read)
	}
	others, err := store.ListByUser(ctx, other)
	require.NoError(t, err)
	assert.False(t, others[0].Read)
}
