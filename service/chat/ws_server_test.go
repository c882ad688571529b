package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dmchat/middleware"
	midsec "dmchat/middleware/security"
	"dmchat/service/storage"
	"dmchat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testClient = "http://chat.example"

func newWSServer(t *testing.T) (*httptest.Server, security.Options) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts := security.DefaultOptions([]byte("test-secret"))

	attachments, err := storage.NewDiskAttachmentStore(t.TempDir())
	require.NoError(t, err)
	hub := NewHub(HubConf{ProbeInterval: time.Hour},
		zap.NewNop(), security.NewJWTVerifier(opts), newMemStore(), attachments, nil)
	t.Cleanup(hub.Shutdown)

	srv := NewServer(hub, zap.NewNop(), ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxFrameBytes:   1 << 20,
		CheckOrigin:     middleware.CheckOrigin(testClient),
	})
	r := gin.New()
	r.GET("/ws", midsec.Middleware(midsec.DefaultOptions()), srv.HandleWS)
	r.GET("/presence", srv.OnlineUsers)
	middleware.POST(r, "/internal/messages/:id/deleted", srv.MessageDeleted, middleware.RouteOpt{InternalSecret: "s3"})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, opts
}

func dial(t *testing.T, ts *httptest.Server, opts security.Options, uid string) *websocket.Conn {
	t.Helper()
	tok, err := security.Generate(opts, security.Identity{UserID: uid, Username: strings.ToUpper(uid)})
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Origin", testClient)
	h.Set("Cookie", "token="+tok)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil returns the first frame containing key.
func readUntil(t *testing.T, ws *websocket.Conn, key string) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if _, ok := m[key]; ok {
			return m
		}
	}
}

func TestServer_EndToEndRelay(t *testing.T) {
	req := require.New(t)
	ts, opts := newWSServer(t)

	// Given alice and bob connected with cookie tokens
	alice := dial(t, ts, opts, "alice")
	bob := dial(t, ts, opts, "bob")

	req.Eventually(func() bool {
		resp, err := http.Get(ts.URL + "/presence")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var p PresenceFrame
		return json.NewDecoder(resp.Body).Decode(&p) == nil && len(p.Online) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// When alice writes to bob
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte(`{"recipient":"bob","text":"hey"}`)))

	// Then bob receives it with the stored id
	got := readUntil(t, bob, "_id")
	req.Equal("hey", got["text"])
	req.Equal("alice", got["sender"])
	req.NotEmpty(got["_id"])

	// And a deletion posted by the API reaches both
	post := func(secret string) int {
		r, _ := http.NewRequest(http.MethodPost, ts.URL+"/internal/messages/"+got["_id"].(string)+"/deleted", nil)
		r.Header.Set(midsec.HeaderInternalSecret, secret)
		resp, err := http.DefaultClient.Do(r)
		req.NoError(err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	req.Equal(http.StatusUnauthorized, post("wrong"))
	req.Equal(http.StatusNoContent, post("s3"))
	req.Equal(got["_id"], readUntil(t, alice, "messageId")["messageId"])
	req.Equal(got["_id"], readUntil(t, bob, "messageId")["messageId"])
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	ts, _ := newWSServer(t)
	h := http.Header{}
	h.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", h)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_DisconnectUpdatesPresence(t *testing.T) {
	req := require.New(t)
	ts, opts := newWSServer(t)
	alice := dial(t, ts, opts, "alice")
	bob := dial(t, ts, opts, "bob")

	// wait until alice sees bob online
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		p := readUntil(t, alice, "online")
		if len(p["online"].([]any)) == 2 {
			break
		}
	}

	req.NoError(bob.Close())

	for {
		p := readUntil(t, alice, "online")
		online := p["online"].([]any)
		if len(online) == 1 {
			req.Equal("alice", online[0].(map[string]any)["userId"])
			break
		}
	}
}
