// Package realtime provides the presence and broadcast layer.
//
// The package is organized around four cooperating pieces:
//
// ConnectionRegistry tracks live connections and the user identity
// associated with each after authentication.
//
// TopicRouter tracks topic membership in both directions (topic to
// connections and connection to topics) under a single lock, so the two
// views can never disagree.
//
// Coordinator drives the per-connection state machine: authentication,
// product viewing, stock alert subscriptions, and disconnect teardown.
// It is the sole writer to the registry and the router.
//
// Publisher fans events out to the current members of a topic, or to every
// connection for system heartbeats. Delivery is a best-effort snapshot:
// each member gets one non-blocking write to its buffered send channel.
package realtime
