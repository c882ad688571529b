package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const client = "http://chat.example"

func newEngine(t *testing.T) (*gin.Engine, *observer.ObservedLogs, *bool) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)

	r := gin.New()
	mids := NewManager()
	mids.Add(gin.Recovery(), AccessLog(zap.New(core)), Origin(client))
	mids.Mount(r)

	ran := false
	r.GET("/presence", func(c *gin.Context) {
		ran = true
		c.JSON(http.StatusOK, gin.H{"online": []string{}})
	})
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	return r, logs, &ran
}

func do(r http.Handler, method, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManager_ForeignOriginNeverReachesHandler(t *testing.T) {
	req := require.New(t)
	r, logs, ran := newEngine(t)

	// When a foreign browser origin asks for presence
	w := do(r, http.MethodGet, "/presence", "http://evil.example")

	// Then it is refused before the route runs, and the access log sees the final status
	req.Equal(http.StatusForbidden, w.Code)
	req.False(*ran)
	entries := logs.FilterMessage("http request").All()
	req.Len(entries, 1)
	req.Equal(int64(http.StatusForbidden), entries[0].ContextMap()["status"])
}

func TestManager_AllowedOriginGetsCORSHeaders(t *testing.T) {
	req := require.New(t)
	r, _, ran := newEngine(t)

	w := do(r, http.MethodGet, "/presence", client)

	req.Equal(http.StatusOK, w.Code)
	req.True(*ran)
	req.Equal(client, w.Header().Get("Access-Control-Allow-Origin"))
	req.Equal("true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestManager_PreflightAndPanic(t *testing.T) {
	req := require.New(t)
	r, _, ran := newEngine(t)

	req.Equal(http.StatusNoContent, do(r, http.MethodOptions, "/presence", client).Code)
	req.False(*ran)
	req.Equal(http.StatusInternalServerError, do(r, http.MethodGet, "/boom", "").Code)
}

func TestManager_HandlersIsSnapshot(t *testing.T) {
	req := require.New(t)
	m := NewManager()
	m.Add(func(*gin.Context) {}, func(*gin.Context) {})

	hs := m.Handlers()
	m.Clear()

	req.Len(hs, 2)
	req.Empty(m.Handlers())
}
