package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of message being sent
type MessageType string

const (
	// Client to server
	MsgTypeAuthenticate         MessageType = "authenticate"
	MsgTypeViewProduct          MessageType = "view_product"
	MsgTypeLeaveProduct         MessageType = "leave_product"
	MsgTypeSubscribeStockAlerts MessageType = "subscribe_stock_alerts"
	MsgTypeJoinSearch           MessageType = "join_search"
	MsgTypePing                 MessageType = "ping"

	// Server to client
	MsgTypeAuthenticated      MessageType = "authenticated"
	MsgTypeAuthError          MessageType = "auth_error"
	MsgTypeViewerCount        MessageType = "viewer_count"
	MsgTypeSubscribedToAlerts MessageType = "subscribed_to_alerts"
	MsgTypeSearchJoined       MessageType = "search_joined"
	MsgTypeStockUpdate        MessageType = "stock_update"
	MsgTypeStockAlert         MessageType = "stock_alert"
	MsgTypePriceChange        MessageType = "price_change"
	MsgTypeSystemHeartbeat    MessageType = "system_heartbeat"
	MsgTypePong               MessageType = "pong"
	MsgTypeError              MessageType = "error"
	MsgTypeServerShutdown     MessageType = "server_shutdown"
)

// Message is the base structure for all messages
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a message with a marshaled payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &Message{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

// ParsePayload unmarshals the message payload into the given value
func (m *Message) ParsePayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// AuthenticatePayload carries the client's token
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// AuthenticatedPayload acknowledges a successful authentication
type AuthenticatedPayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthErrorPayload reports a failed authentication to the caller
type AuthErrorPayload struct {
	Error string `json:"error"`
}

// ViewProductPayload marks the start of a product viewing session
type ViewProductPayload struct {
	ProductID string `json:"productId"`
}

// LeaveProductPayload marks the end of a product viewing session
type LeaveProductPayload struct {
	ProductID string `json:"productId"`
}

// SubscribeStockAlertsPayload subscribes the caller to stock alerts
type SubscribeStockAlertsPayload struct {
	ProductIDs []string `json:"productIds"`
}

// SubscribedToAlertsPayload acknowledges a stock alert subscription
type SubscribedToAlertsPayload struct {
	ProductIDs []string `json:"productIds"`
}

// SearchJoinedPayload acknowledges joining the search analytics room
type SearchJoinedPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ViewerCountPayload reports the live viewer count for a product
type ViewerCountPayload struct {
	ProductID string    `json:"productId"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// StockUpdatePayload reports a stock change for a product
type StockUpdatePayload struct {
	ProductID string          `json:"productId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceChangePayload reports a price change for a product
type PriceChangePayload struct {
	ProductID string          `json:"productId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SystemHeartbeatPayload carries aggregate liveness counts
type SystemHeartbeatPayload struct {
	ConnectedUsers int       `json:"connectedUsers"`
	ActiveProducts int       `json:"activeProducts"`
	Timestamp      time.Time `json:"timestamp"`
}

// PongPayload answers a client ping
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a malformed or rejected client command
type ErrorPayload struct {
	Message string `json:"message"`
}

// ServerShutdownPayload notifies clients of an imminent shutdown
type ServerShutdownPayload struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
