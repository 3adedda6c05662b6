package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	LastEventTime     time.Time `json:"last_event_time"`
	EventsProcessed   uint64    `json:"events_processed"`
	PendingEvents     int64     `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PendingCounter is satisfied by the race queries.
type PendingCounter interface {
	CountUnsentOutbox(ctx context.Context) (int64, error)
}

// Connection is satisfied by *nats.Conn.
type Connection interface {
	IsConnected() bool
}

type HealthChecker struct {
	listener  *Listener
	db        Pinger
	pending   PendingCounter
	nats      Connection
	clock     clockwork.Clock
	threshold time.Duration // How long pending rows may sit before unhealthy
}

func NewHealthChecker(listener *Listener, db Pinger, pending PendingCounter, nats Connection, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		listener:  listener,
		db:        db,
		pending:   pending,
		nats:      nats,
		clock:     listener.clock,
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	status.EventsProcessed, status.LastEventTime, status.ListenerActive = h.listener.Stats()
	if !status.ListenerActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not active")
	}

	if err := h.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.nats != nil {
		status.NATSConnected = h.nats.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if status.DatabaseConnected {
		pending, err := h.pending.CountUnsentOutbox(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
		}
	}

	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		if since := h.clock.Since(status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events relayed for %s", since))
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
