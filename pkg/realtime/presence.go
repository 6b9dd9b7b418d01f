package realtime

import (
	"sync"
	"time"

	"markethub/pkg/auth"
	"markethub/pkg/logger"
	"markethub/pkg/protocol"
)

// SessionState is the lifecycle state of one connection
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateDisconnected
)

// String returns the state name
func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the per-connection presence state machine. Events for one
// session arrive from its single read pump, so transitions are serial.
type Session struct {
	client *Client
	mu     sync.Mutex
	state  SessionState
}

// State returns the current session state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnID returns the session's connection identifier
func (s *Session) ConnID() string {
	return s.client.ID()
}

// Coordinator drives presence transitions. It is the sole writer to the
// registry and the router: every mutation sequence (join, recount, publish)
// completes before the next event for that connection is processed.
type Coordinator struct {
	registry  *ConnectionRegistry
	router    *TopicRouter
	publisher *Publisher
	verifier  auth.TokenVerifier
	log       *logger.Logger
}

// NewCoordinator creates a presence coordinator
func NewCoordinator(registry *ConnectionRegistry, router *TopicRouter, publisher *Publisher, verifier auth.TokenVerifier) *Coordinator {
	return &Coordinator{
		registry:  registry,
		router:    router,
		publisher: publisher,
		verifier:  verifier,
		log:       logger.Get().With("component", "presence"),
	}
}

// Connect registers a client and opens its session
func (c *Coordinator) Connect(client *Client) *Session {
	c.registry.Register(client)
	c.log.InfoWith("connection opened", "connID", client.ID())
	return &Session{client: client, state: StateUnauthenticated}
}

// HandleMessage processes one client event in arrival order. Malformed
// payloads degrade to an error event to the caller with no state mutation.
func (c *Coordinator) HandleMessage(s *Session, msg *protocol.Message) {
	if s.State() == StateDisconnected {
		return
	}

	switch msg.Type {
	case protocol.MsgTypeAuthenticate:
		var p protocol.AuthenticatePayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(s, "malformed authenticate payload")
			return
		}
		c.Authenticate(s, p.Token)

	case protocol.MsgTypeViewProduct:
		var p protocol.ViewProductPayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(s, "malformed view_product payload")
			return
		}
		c.ViewProduct(s, p.ProductID)

	case protocol.MsgTypeLeaveProduct:
		var p protocol.LeaveProductPayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(s, "malformed leave_product payload")
			return
		}
		c.LeaveProduct(s, p.ProductID)

	case protocol.MsgTypeSubscribeStockAlerts:
		var p protocol.SubscribeStockAlertsPayload
		if err := msg.ParsePayload(&p); err != nil {
			c.sendError(s, "productIds must be a list of product ids")
			return
		}
		c.SubscribeStockAlerts(s, p.ProductIDs)

	case protocol.MsgTypeJoinSearch:
		c.JoinSearch(s)

	case protocol.MsgTypePing:
		c.reply(s, protocol.MsgTypePong, &protocol.PongPayload{Timestamp: time.Now()})

	default:
		c.sendError(s, "unknown message type: "+string(msg.Type))
	}
}

// Authenticate validates the token via the injected verifier. On failure the
// session stays unauthenticated and only the caller is notified.
func (c *Coordinator) Authenticate(s *Session, token string) {
	userID, err := c.verifier.Verify(token)
	if err != nil {
		c.log.WarnWith("authentication failed", "connID", s.ConnID(), "error", err)
		c.reply(s, protocol.MsgTypeAuthError, &protocol.AuthErrorPayload{Error: "authentication failed"})
		return
	}

	if err := c.registry.SetUser(s.ConnID(), userID); err != nil {
		c.reply(s, protocol.MsgTypeAuthError, &protocol.AuthErrorPayload{Error: "connection not registered"})
		return
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.mu.Unlock()

	c.log.InfoWith("connection authenticated", "connID", s.ConnID(), "userID", userID)
	c.reply(s, protocol.MsgTypeAuthenticated, &protocol.AuthenticatedPayload{
		UserID:    userID,
		Timestamp: time.Now(),
	})
}

// ViewProduct joins the product topic and publishes the new viewer count to it
func (c *Coordinator) ViewProduct(s *Session, productID string) {
	if productID == "" {
		c.sendError(s, "productId is required")
		return
	}

	topic := ProductTopic(productID)
	c.router.Join(s.ConnID(), topic)
	c.publishViewerCount(productID)
}

// LeaveProduct leaves the product topic and republishes the count to the
// remaining members
func (c *Coordinator) LeaveProduct(s *Session, productID string) {
	if productID == "" {
		c.sendError(s, "productId is required")
		return
	}

	topic := ProductTopic(productID)
	c.router.Leave(s.ConnID(), topic)
	c.publishViewerCount(productID)
}

// SubscribeStockAlerts joins the stock alert topic for each product and acks
// to the caller only. An empty list is a no-op that still acks.
func (c *Coordinator) SubscribeStockAlerts(s *Session, productIDs []string) {
	for _, productID := range productIDs {
		if productID == "" {
			continue
		}
		c.router.Join(s.ConnID(), StockAlertTopic(productID))
	}
	c.reply(s, protocol.MsgTypeSubscribedToAlerts, &protocol.SubscribedToAlertsPayload{
		ProductIDs: productIDs,
	})
}

// JoinSearch joins the search analytics room and acks to the caller
func (c *Coordinator) JoinSearch(s *Session) {
	c.router.Join(s.ConnID(), TopicSearchAnalytics)
	c.reply(s, protocol.MsgTypeSearchJoined, &protocol.SearchJoinedPayload{Timestamp: time.Now()})
}

// Disconnect removes the connection from every topic, republishes decremented
// viewer counts, and makes the session terminal. Repeated calls are no-ops.
func (c *Coordinator) Disconnect(s *Session) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	connID := s.ConnID()

	// A newer connection may have registered under the same id; the
	// registration and memberships belong to it now, not to this session.
	if current, ok := c.registry.Get(connID); !ok || current != s.client {
		_ = s.client.Close()
		c.log.InfoWith("superseded connection closed", "connID", connID)
		return
	}

	// Membership is removed atomically before any further event about this
	// connection is published.
	topics := c.router.LeaveAll(connID)
	for _, topic := range topics {
		if IsProductTopic(topic) {
			c.publishViewerCount(ProductIDFromTopic(topic))
		}
	}

	c.registry.Unregister(connID)
	_ = s.client.Close()
	c.log.InfoWith("connection closed", "connID", connID, "topicsLeft", len(topics))
}

func (c *Coordinator) publishViewerCount(productID string) {
	topic := ProductTopic(productID)
	c.publisher.Publish(topic, protocol.MsgTypeViewerCount, &protocol.ViewerCountPayload{
		ProductID: productID,
		Count:     c.router.CountOf(topic),
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) reply(s *Session, msgType protocol.MessageType, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.log.ErrorWithErr("failed to build reply", err, "connID", s.ConnID(), "type", msgType)
		return
	}
	if err := s.client.Send(msg); err != nil {
		c.log.WarnWith("failed to deliver reply", "connID", s.ConnID(), "type", msgType, "reason", err)
	}
}

func (c *Coordinator) sendError(s *Session, message string) {
	c.reply(s, protocol.MsgTypeError, &protocol.ErrorPayload{Message: message})
}
