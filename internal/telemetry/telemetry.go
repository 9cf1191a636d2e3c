// Package telemetry emits workflow step events. The sink interface keeps
// the orchestrator decoupled from where events land; the default sink is
// the structured log, and tests use the in-memory collector.
package telemetry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/internal/model"
)

// Emitter receives one event per workflow forward step and per
// compensation outcome. Implementations must never block the workflow on
// sink failures.
type Emitter interface {
	Emit(eventType, entityID string, metadata map[string]string)
}

// ─── Log sink ───────────────────────────────────────────────

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	log *logrus.Entry
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(log *logrus.Entry) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(eventType, entityID string, metadata map[string]string) {
	fields := logrus.Fields{
		"event_type": eventType,
		"entity_id":  entityID,
	}
	for k, v := range metadata {
		fields["meta_"+k] = v
	}
	e.log.WithFields(fields).Info("telemetry")
}

// ─── In-memory collector ────────────────────────────────────

// Collector records events for inspection in tests.
type Collector struct {
	mu     sync.Mutex
	events []model.TelemetryEvent
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(eventType, entityID string, metadata map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, model.TelemetryEvent{
		EventType: eventType,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
}

// Events returns a copy of everything emitted so far.
func (c *Collector) Events() []model.TelemetryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.TelemetryEvent(nil), c.events...)
}

// EventTypes returns the emitted event types in order.
func (c *Collector) EventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.EventType
	}
	return out
}
