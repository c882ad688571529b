package chat

import (
	"errors"
	"net"
	"net/http"

	midsec "dmchat/middleware/security"
	"dmchat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxFrameBytes   int64
	CheckOrigin     func(r *http.Request) bool // nil accepts any origin
}

// Server exposes the hub over HTTP: the websocket endpoint plus a few
// operational routes.
type Server struct {
	hub      *Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
	maxFrame int64
}

func NewServer(hub *Hub, log *zap.Logger, opts ServerOptions) *Server {
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Server{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     check,
		},
		maxFrame: opts.MaxFrameBytes,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// HandleWS upgrades the request and runs the read loop until the peer goes away.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.log.Debug("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	if s.maxFrame > 0 {
		ws.SetReadLimit(s.maxFrame)
	}

	conn := s.hub.Accept(ws, c.ClientIP(), midsec.TokenFrom(c))
	ws.SetPongHandler(func(string) error {
		s.hub.Pong(conn)
		return nil
	})

	s.hub.Close(conn, s.readLoop(ws, conn))
}

// readLoop only reads. Control frames are processed inside ReadMessage,
// so it must keep running while frames are being relayed.
func (s *Server) readLoop(ws *websocket.Conn, conn *Conn) error {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived):
				return nil
			case errors.Is(err, websocket.ErrReadLimit):
				return errs.ErrInvalidFrame.WrapMsg("frame too large", "limit", s.maxFrame)
			case errors.As(err, &ne) && ne.Timeout():
				return errs.WrapMsg(err, "read timeout")
			default:
				if conn.Closed() {
					return nil
				}
				return errs.WrapMsg(err, "read frame")
			}
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if !s.hub.Receive(conn, data) {
			return nil
		}
	}
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.hub.Registry().Len()})
}

// OnlineUsers returns the same snapshot clients receive.
func (s *Server) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, PresenceFrame{Online: s.hub.Registry().Snapshot()})
}

// MessageDeleted lets the HTTP API that owns deletion notify connected clients.
func (s *Server) MessageDeleted(c *gin.Context) {
	id := c.Param("id")
	if err := s.hub.AnnounceDeletion(id); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errs.ErrInvalidFrame)
		return
	}
	c.Status(http.StatusNoContent)
}
