package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"markethub/pkg/logger"
	"markethub/pkg/protocol"
	"markethub/pkg/realtime"
	"markethub/pkg/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, implement proper origin checking
	},
}

const writeDeadline = 10 * time.Second

// Server owns the HTTP surface and the per-connection pumps
type Server struct {
	services *Services
	log      *logger.Logger

	httpServer *http.Server
	serverMu   sync.Mutex

	acceptMu  sync.Mutex
	accepting bool

	pumps sync.WaitGroup
}

// NewServer creates a new server instance over initialized services
func NewServer(services *Services) *Server {
	return &Server{
		services:  services,
		log:       logger.Get().With("component", "server"),
		accepting: true,
	}
}

// Start blocks serving HTTP until the listener closes
func (s *Server) Start() error {
	router := gin.Default()
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	// WebSocket endpoint for buyers and storefront pages
	router.GET("/ws", s.ginHandleWebSocket)

	// Broadcast entry points for the scraping and pricing pipelines
	router.POST("/api/broadcast/stock", s.ginHandleBroadcastStock)
	router.POST("/api/broadcast/price", s.ginHandleBroadcastPrice)

	// Operational endpoints
	router.GET("/api/stats", s.ginHandleStats)
	router.GET("/healthz", s.ginHandleHealth)

	server := &http.Server{
		Addr:    s.services.Config.Address,
		Handler: router,
	}

	s.serverMu.Lock()
	s.httpServer = server
	s.serverMu.Unlock()

	s.log.InfoWith("server starting", "address", s.services.Config.Address)
	return server.ListenAndServe()
}

// StopAccepting rejects new WebSocket connections from this point on.
// Established connections keep running until NotifyAndClose.
func (s *Server) StopAccepting() {
	s.acceptMu.Lock()
	s.accepting = false
	s.acceptMu.Unlock()
	s.log.Info("no longer accepting connections")
}

// NotifyAndClose sends a shutdown notice to every connection, closes them
// all, and waits for the pumps to drain.
func (s *Server) NotifyAndClose(reason string) {
	s.services.Publisher.PublishAll(protocol.MsgTypeServerShutdown, protocol.ServerShutdownPayload{
		Reason:    reason,
		Timestamp: time.Now(),
	})
	for _, client := range s.services.Registry.All() {
		client.Close()
	}
	s.pumps.Wait()
}

// CloseListener stops the HTTP listener
func (s *Server) CloseListener(ctx context.Context) error {
	s.serverMu.Lock()
	server := s.httpServer
	s.serverMu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) ginHandleWebSocket(c *gin.Context) {
	s.acceptMu.Lock()
	accepting := s.accepting
	s.acceptMu.Unlock()
	if !accepting {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrNotAccepting.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.ErrorWithErr("websocket upgrade failed", err)
		return
	}

	client := realtime.NewClient(uuid.NewString(), conn, s.services.Config.Realtime.SendBufferSize)
	session := s.services.Presence.Connect(client)
	s.log.InfoWith("connection established", "connId", client.ID(), "remote", c.ClientIP())

	s.pumps.Add(2)
	go s.readPump(client, session)
	go s.writePump(client)
}

// readPump reads client events and feeds them to the presence coordinator
func (s *Server) readPump(client *realtime.Client, session *realtime.Session) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorWith("panic recovered in read pump", "connId", client.ID(), "panic", r)
		}
		s.services.Presence.Disconnect(session)
		s.pumps.Done()
	}()

	conn := client.Conn()
	deadline := s.services.Config.Realtime.ReadDeadline
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WarnWith("websocket read error", "connId", client.ID(), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		wasAuthenticated := session.State() == realtime.StateAuthenticated
		s.services.Presence.HandleMessage(session, &msg)

		if !wasAuthenticated && session.State() == realtime.StateAuthenticated {
			s.recordActivity(client.UserID())
		}
	}
}

// writePump drains the client's outbox onto the wire and keeps the
// connection alive with pings
func (s *Server) writePump(client *realtime.Client) {
	ticker := time.NewTicker(s.services.Config.Realtime.PingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
		s.pumps.Done()
	}()

	conn := client.Conn()
	for {
		select {
		case msg, ok := <-client.Outbox():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// recordActivity feeds the recommendation job's active-user window
func (s *Server) recordActivity(userID string) {
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.services.Store.RecordUserActivity(ctx, userID, time.Now()); err != nil {
		s.log.ErrorWithErr("failed to record user activity", err, "userId", userID)
	}
}

// broadcastRequest is the body of the pipeline broadcast endpoints
type broadcastRequest struct {
	ProductID string          `json:"productId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (s *Server) ginHandleBroadcastStock(c *gin.Context) {
	req, ok := s.bindBroadcast(c)
	if !ok {
		return
	}
	s.services.Publisher.BroadcastStockUpdate(req.ProductID, req.Data)
	s.persistSnapshot(c.Request.Context(), req.ProductID, storage.SnapshotStock, req.Data)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ginHandleBroadcastPrice(c *gin.Context) {
	req, ok := s.bindBroadcast(c)
	if !ok {
		return
	}
	s.services.Publisher.BroadcastPriceChange(req.ProductID, req.Data)
	s.persistSnapshot(c.Request.Context(), req.ProductID, storage.SnapshotPrice, req.Data)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) bindBroadcast(c *gin.Context) (broadcastRequest, bool) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProductID == "" {
		if err == nil {
			err = errors.New("productId is required")
		}
		s.log.WarnWith("rejected broadcast request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidBroadcast.Error()})
		return broadcastRequest{}, false
	}
	return req, true
}

func (s *Server) persistSnapshot(ctx context.Context, productID, kind string, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := s.services.Store.SaveProductSnapshot(ctx, productID, kind, data); err != nil {
		s.log.ErrorWithErr("failed to persist product snapshot", err, "productId", productID, "kind", kind)
	}
}

func (s *Server) ginHandleStats(c *gin.Context) {
	stats := s.services.Publisher.Stats()
	c.JSON(http.StatusOK, gin.H{
		"connectedUsers": stats.ConnectedUsers,
		"activeProducts": stats.ActiveProducts,
		"jobs":           s.services.Scheduler.Snapshot(),
	})
}

func (s *Server) ginHandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"store": "ok"}
	if err := s.services.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.services.Cache != nil {
		checks["cache"] = "ok"
		if err := s.services.Cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, checks)
}
