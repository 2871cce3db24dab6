package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulseer/internal/api"
	"soulseer/internal/auth"
	"soulseer/internal/domain"
)

func setupRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc)

	router := gin.New()
	g := router.Group("/sessions", func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			auth.SetIdentity(c, id, auth.RoleClient)
		}
	})
	g.POST("", h.Request)
	g.GET("/:id", h.Get)
	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/decline", h.Decline)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/end", h.End)
	g.POST("/:id/extend", h.Extend)
	g.POST("/:id/credentials", h.Credentials)
	return router
}

func call(router *gin.Engine, user, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_Lifecycle(t *testing.T) {
	f := newFixture(t, "30")
	router := setupRouter(f)

	w := call(router, clientID, http.MethodPost, "/sessions", `{"reader_id":"reader-1","type":"voice"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	w = call(router, readerID, http.MethodPost, "/sessions/"+sess.ID+"/accept", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var joined Joined
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &joined))
	assert.Equal(t, readerID, joined.Credential.ParticipantID)

	w = call(router, clientID, http.MethodPost, "/sessions/"+sess.ID+"/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	f.clock.Advance(2 * time.Minute)

	w = call(router, clientID, http.MethodPost, "/sessions/"+sess.ID+"/extend", `{"minutes":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(router, clientID, http.MethodPost, "/sessions/"+sess.ID+"/end", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.True(t, first.Settlement.TotalCharged.Equal(d("6")))

	// double click on "end session"
	w = call(router, readerID, http.MethodPost, "/sessions/"+sess.ID+"/end", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.Settlement.ID, second.Settlement.ID)
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t, "10")
	router := setupRouter(f)

	w := call(router, "", http.MethodPost, "/sessions", `{"reader_id":"reader-1","type":"voice"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(router, clientID, http.MethodPost, "/sessions", `{"reader_id":"reader-1","type":"smoke-signals"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(router, clientID, http.MethodPost, "/sessions", `{"reader_id":"reader-1","type":"voice"}`)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var funds api.InsufficientFundsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &funds))
	assert.True(t, funds.Shortfall.Equal(d("5")))

	w = call(router, clientID, http.MethodGet, "/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.fund(t, "10")
	w = call(router, clientID, http.MethodPost, "/sessions", `{"reader_id":"reader-1","type":"voice"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	w = call(router, "stranger", http.MethodGet, "/sessions/"+sess.ID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(router, clientID, http.MethodPost, "/sessions/"+sess.ID+"/end", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = call(router, readerID, http.MethodPost, "/sessions/"+sess.ID+"/decline", `{"reason":"busy tonight"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}
