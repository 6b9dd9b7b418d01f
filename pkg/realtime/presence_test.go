package realtime

import (
	"errors"
	"testing"

	"markethub/pkg/auth"
	"markethub/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingVerifier struct{}

func (failingVerifier) Verify(string) (string, error) {
	return "", errors.New("rejected")
}

type fixture struct {
	registry    *ConnectionRegistry
	router      *TopicRouter
	publisher   *Publisher
	coordinator *Coordinator
}

func newFixture(verifier auth.TokenVerifier) *fixture {
	registry := NewConnectionRegistry()
	router := NewTopicRouter()
	publisher := NewPublisher(registry, router, nil)
	return &fixture{
		registry:    registry,
		router:      router,
		publisher:   publisher,
		coordinator: NewCoordinator(registry, router, publisher, verifier),
	}
}

func (f *fixture) connect(id string) (*Client, *Session) {
	c := newTestClient(id)
	return c, f.coordinator.Connect(c)
}

// drain collects everything currently queued for a client
func drain(c *Client) []*protocol.Message {
	var msgs []*protocol.Message
	for {
		select {
		case m := <-c.send:
			if m == nil {
				return msgs
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func ofType(msgs []*protocol.Message, msgType protocol.MessageType) []*protocol.Message {
	var matched []*protocol.Message
	for _, m := range msgs {
		if m.Type == msgType {
			matched = append(matched, m)
		}
	}
	return matched
}

func TestAuthenticateSuccess(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	f.coordinator.Authenticate(s, "user-1")

	assert.Equal(t, StateAuthenticated, s.State())
	userID, ok := f.registry.UserOf("c1")
	require.True(t, ok)
	assert.Equal(t, "user-1", userID)

	msgs := ofType(drain(c), protocol.MsgTypeAuthenticated)
	require.Len(t, msgs, 1)
	var p protocol.AuthenticatedPayload
	require.NoError(t, msgs[0].ParsePayload(&p))
	assert.Equal(t, "user-1", p.UserID)
	assert.False(t, p.Timestamp.IsZero())
}

func TestAuthenticateFailureStaysUnauthenticated(t *testing.T) {
	f := newFixture(failingVerifier{})
	c, s := f.connect("c1")

	f.coordinator.Authenticate(s, "bad-token")

	assert.Equal(t, StateUnauthenticated, s.State())
	_, ok := f.registry.UserOf("c1")
	assert.False(t, ok)

	msgs := drain(c)
	assert.Len(t, ofType(msgs, protocol.MsgTypeAuthError), 1)
	assert.Empty(t, ofType(msgs, protocol.MsgTypeAuthenticated))
}

func TestViewProductRequiresID(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	f.coordinator.ViewProduct(s, "")

	assert.Empty(t, f.router.TopicsOf("c1"), "no membership on validation failure")
	assert.Len(t, ofType(drain(c), protocol.MsgTypeError), 1)
}

func TestViewProductPublishesCountToTopic(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c1, s1 := f.connect("c1")
	c2, s2 := f.connect("c2")

	f.coordinator.ViewProduct(s1, "p1")
	f.coordinator.ViewProduct(s2, "p1")

	// c1 sees count=1 from its own join and count=2 from c2's join
	counts1 := ofType(drain(c1), protocol.MsgTypeViewerCount)
	require.Len(t, counts1, 2)
	var last protocol.ViewerCountPayload
	require.NoError(t, counts1[len(counts1)-1].ParsePayload(&last))
	assert.Equal(t, "p1", last.ProductID)
	assert.Equal(t, 2, last.Count)

	// c2 joined last and sees only count=2
	counts2 := ofType(drain(c2), protocol.MsgTypeViewerCount)
	require.Len(t, counts2, 1)
	require.NoError(t, counts2[0].ParsePayload(&last))
	assert.Equal(t, 2, last.Count)
}

func TestLeaveProductNotifiesRemainingViewer(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c1, s1 := f.connect("c1")
	_, s2 := f.connect("c2")

	f.coordinator.ViewProduct(s1, "p1")
	f.coordinator.ViewProduct(s2, "p1")
	drain(c1)

	f.coordinator.LeaveProduct(s2, "p1")

	counts := ofType(drain(c1), protocol.MsgTypeViewerCount)
	require.Len(t, counts, 1)
	var p protocol.ViewerCountPayload
	require.NoError(t, counts[0].ParsePayload(&p))
	assert.Equal(t, "p1", p.ProductID)
	assert.Equal(t, 1, p.Count)
}

func TestViewerCountConvergesToMembership(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c1, s1 := f.connect("c1")
	_, s2 := f.connect("c2")
	_, s3 := f.connect("c3")

	f.coordinator.ViewProduct(s1, "p1")
	f.coordinator.ViewProduct(s2, "p1")
	f.coordinator.ViewProduct(s3, "p1")
	f.coordinator.LeaveProduct(s2, "p1")
	f.coordinator.ViewProduct(s2, "p1")
	f.coordinator.LeaveProduct(s3, "p1")

	counts := ofType(drain(c1), protocol.MsgTypeViewerCount)
	require.NotEmpty(t, counts)
	var last protocol.ViewerCountPayload
	require.NoError(t, counts[len(counts)-1].ParsePayload(&last))
	assert.Equal(t, f.router.CountOf(ProductTopic("p1")), last.Count,
		"last delivered count equals current membership")
	assert.Equal(t, 2, last.Count)
}

func TestDisconnectRepublishesEachViewedTopicOnce(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	watcher, ws := f.connect("watcher")
	_, s := f.connect("leaver")

	f.coordinator.ViewProduct(ws, "a")
	f.coordinator.ViewProduct(ws, "b")
	f.coordinator.ViewProduct(s, "a")
	f.coordinator.ViewProduct(s, "b")
	drain(watcher)

	f.coordinator.Disconnect(s)

	counts := ofType(drain(watcher), protocol.MsgTypeViewerCount)
	require.Len(t, counts, 2, "exactly one decremented count per topic")

	seen := map[string]int{}
	for _, m := range counts {
		var p protocol.ViewerCountPayload
		require.NoError(t, m.ParsePayload(&p))
		seen[p.ProductID] = p.Count
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, seen)

	assert.Empty(t, f.router.TopicsOf("leaver"))
	_, ok := f.registry.Get("leaver")
	assert.False(t, ok, "disconnect unregisters the connection")
}

func TestDisconnectOfSupersededSessionKeepsReplacement(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	old, oldSession := f.connect("dup")
	f.coordinator.ViewProduct(oldSession, "p1")

	// A second connection registers under the same id; Register closes the
	// old client and the replacement takes over its memberships.
	replacement, replSession := f.connect("dup")
	f.coordinator.ViewProduct(replSession, "p1")
	require.True(t, old.IsClosed())

	f.coordinator.Disconnect(oldSession)
	assert.Equal(t, StateDisconnected, oldSession.State())

	current, ok := f.registry.Get("dup")
	require.True(t, ok, "replacement must stay registered")
	assert.Same(t, replacement, current)
	assert.Equal(t, 1, f.router.CountOf(ProductTopic("p1")),
		"replacement keeps its topic membership")
}

func TestDisconnectIsTerminalAndIdempotent(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	f.coordinator.ViewProduct(s, "p1")
	f.coordinator.Disconnect(s)
	require.Equal(t, StateDisconnected, s.State())

	f.coordinator.Disconnect(s)
	assert.Equal(t, StateDisconnected, s.State())

	// further events are ignored
	msg, err := protocol.NewMessage(protocol.MsgTypeViewProduct, &protocol.ViewProductPayload{ProductID: "p2"})
	require.NoError(t, err)
	f.coordinator.HandleMessage(s, msg)
	assert.Empty(t, f.router.TopicsOf("c1"))
	assert.True(t, c.IsClosed())
}

func TestStockAlertTopicIsolation(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	cA, sA := f.connect("subA")
	cB, sB := f.connect("subB")

	f.coordinator.SubscribeStockAlerts(sA, []string{"a"})
	f.coordinator.SubscribeStockAlerts(sB, []string{"b"})
	drain(cA)
	drain(cB)

	f.publisher.BroadcastStockUpdate("a", nil)

	assert.Len(t, ofType(drain(cA), protocol.MsgTypeStockAlert), 1,
		"subscriber to stock-alerts:a receives the stock event for a")
	assert.Empty(t, drain(cB),
		"subscriber to stock-alerts:b receives nothing for product a")
}

func TestSubscribeStockAlertsEmptyListAcks(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	f.coordinator.SubscribeStockAlerts(s, []string{})

	assert.Empty(t, f.router.TopicsOf("c1"))
	assert.Len(t, ofType(drain(c), protocol.MsgTypeSubscribedToAlerts), 1)
}

func TestJoinSearch(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	f.coordinator.JoinSearch(s)

	assert.Equal(t, 1, f.router.CountOf(TopicSearchAnalytics))
	assert.Len(t, ofType(drain(c), protocol.MsgTypeSearchJoined), 1)
}

func TestHandleMessagePingPong(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	msg, err := protocol.NewMessage(protocol.MsgTypePing, nil)
	require.NoError(t, err)
	f.coordinator.HandleMessage(s, msg)

	assert.Len(t, ofType(drain(c), protocol.MsgTypePong), 1)
}

func TestHandleMessageMalformedPayload(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	msg, err := protocol.NewMessage(protocol.MsgTypeSubscribeStockAlerts,
		map[string]any{"productIds": "not-a-list"})
	require.NoError(t, err)
	f.coordinator.HandleMessage(s, msg)

	assert.Empty(t, f.router.TopicsOf("c1"), "no mutation on malformed payload")
	assert.Len(t, ofType(drain(c), protocol.MsgTypeError), 1)
}

func TestHandleMessageUnknownType(t *testing.T) {
	f := newFixture(auth.TrustAllVerifier{})
	c, s := f.connect("c1")

	msg, err := protocol.NewMessage("teleport", nil)
	require.NoError(t, err)
	f.coordinator.HandleMessage(s, msg)

	assert.Len(t, ofType(drain(c), protocol.MsgTypeError), 1)
}

func TestViewingAllowedWhileUnauthenticated(t *testing.T) {
	f := newFixture(failingVerifier{})
	c, s := f.connect("c1")

	f.coordinator.ViewProduct(s, "p1")

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Equal(t, 1, f.router.CountOf(ProductTopic("p1")))
	assert.Len(t, ofType(drain(c), protocol.MsgTypeViewerCount), 1)
}
