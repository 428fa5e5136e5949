package health

import (
	"context"
	"fmt"
	"time"

	broker "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Broker"
)

// Pinger is any dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubscriberStatus reports the broker subscriber lifecycle state.
type SubscriberStatus interface {
	State() broker.State
}

// BridgeStatus reports whether the MQTT bridge holds a broker connection.
type BridgeStatus interface {
	IsConnected() bool
}

// HealthChecker provides health check functionality. Only the store is
// required; the other components are reported when configured.
type HealthChecker struct {
	store      Pinger
	cache      Pinger
	subscriber SubscriberStatus
	bridge     BridgeStatus
	timeout    time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(store Pinger) *HealthChecker {
	return &HealthChecker{store: store, timeout: 3 * time.Second}
}

func (h *HealthChecker) WithCache(cache Pinger) *HealthChecker {
	h.cache = cache
	return h
}

func (h *HealthChecker) WithSubscriber(subscriber SubscriberStatus) *HealthChecker {
	h.subscriber = subscriber
	return h
}

func (h *HealthChecker) WithBridge(bridge BridgeStatus) *HealthChecker {
	h.bridge = bridge
	return h
}

func (h *HealthChecker) ping(ctx context.Context, p Pinger) map[string]interface{} {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return map[string]interface{}{"status": "error", "error": err.Error()}
	}
	return map[string]interface{}{"status": "ok"}
}

// GetHealthStatus returns the current health status and whether the service
// can accept readings.
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	checks := make(map[string]interface{})
	degraded := false

	store := h.ping(ctx, h.store)
	checks["store"] = store
	ready := store["status"] == "ok"

	if h.cache != nil {
		cache := h.ping(ctx, h.cache)
		checks["cache"] = cache
		degraded = degraded || cache["status"] != "ok"
	}

	if h.subscriber != nil {
		state := h.subscriber.State()
		checks["subscriber"] = map[string]interface{}{"status": state.String()}
		degraded = degraded || state == broker.StateDisconnected
	}

	if h.bridge != nil {
		connected := h.bridge.IsConnected()
		checks["mqtt"] = map[string]interface{}{"status": fmt.Sprintf("connected=%t", connected)}
		degraded = degraded || !connected
	}

	overall := "ok"
	switch {
	case !ready:
		overall = "unavailable"
	case degraded:
		overall = "degraded"
	}

	return map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}, ready
}
