// README: Notification router: resolves a user's live connections and pushes events to them.
package notify

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"ridecore/internal/metrics"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

// Message is the envelope written to the push channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Deliverer hands an encoded message to one connection handle without blocking.
// It reports false when the handle is not held here or cannot take more messages.
type Deliverer interface {
	Deliver(handleID string, msg []byte) bool
}

// Router delivers fire-and-forget: no acknowledgement and no retry.
type Router struct {
	registry presence.Registry
	out      Deliverer
	log      logrus.FieldLogger
}

func NewRouter(registry presence.Registry, out Deliverer, log logrus.FieldLogger) *Router {
	return &Router{registry: registry, out: out, log: log}
}

// Notify pushes event to every live connection of userID and returns how many handles took it.
// A user with no connections is a silent drop.
func (r *Router) Notify(ctx context.Context, userID types.ID, event string, payload any) int {
	msg, ok := r.encode(event, payload)
	if !ok {
		return 0
	}
	return r.deliver(ctx, userID, event, msg)
}

// Broadcast pushes event to every user with live presence that match accepts.
func (r *Router) Broadcast(ctx context.Context, match func(types.ID) bool, event string, payload any) int {
	msg, ok := r.encode(event, payload)
	if !ok {
		return 0
	}
	users, err := r.registry.ListUsers(ctx)
	if err != nil {
		metrics.Notifications.WithLabelValues(event, "lookup_error").Inc()
		r.log.WithError(err).WithField("event", event).Warn("broadcast presence lookup failed")
		return 0
	}
	sent := 0
	for _, u := range users {
		if match(u) {
			sent += r.deliver(ctx, u, event, msg)
		}
	}
	return sent
}

func (r *Router) deliver(ctx context.Context, userID types.ID, event string, msg []byte) int {
	handles, err := r.registry.ListConnections(ctx, userID)
	if err != nil {
		metrics.Notifications.WithLabelValues(event, "lookup_error").Inc()
		r.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "event": event}).Warn("presence lookup failed")
		return 0
	}
	if len(handles) == 0 {
		metrics.Notifications.WithLabelValues(event, "no_connection").Inc()
		r.log.WithFields(logrus.Fields{"user_id": userID, "event": event}).Debug("nobody to notify")
		return 0
	}
	sent := 0
	for _, h := range handles {
		if r.out.Deliver(h, msg) {
			sent++
		}
	}
	if sent == 0 {
		metrics.Notifications.WithLabelValues(event, "dropped").Inc()
		r.log.WithFields(logrus.Fields{"user_id": userID, "event": event}).Warn("notification dropped")
		return 0
	}
	metrics.Notifications.WithLabelValues(event, "delivered").Inc()
	return sent
}

func (r *Router) encode(event string, payload any) ([]byte, bool) {
	m := Message{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			metrics.Notifications.WithLabelValues(event, "encode_error").Inc()
			r.log.WithError(err).WithField("event", event).Error("encode notification")
			return nil, false
		}
		m.Data = data
	}
	msg, err := json.Marshal(m)
	if err != nil {
		metrics.Notifications.WithLabelValues(event, "encode_error").Inc()
		r.log.WithError(err).WithField("event", event).Error("encode notification")
		return nil, false
	}
	return msg, true
}
