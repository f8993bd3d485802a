// Package bus implements the in-process event router connecting telemetry
// producers, the optimization policy, and improvement requestors/responders.
// Topics carry typed payloads so shape errors surface at compile time rather
// than inside handlers.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"agenttune/internal/logging"
	"agenttune/internal/types"
)

// Topic identifies one event stream.
type Topic string

const (
	TopicMetricsUpdated       Topic = "AGENT_METRICS_UPDATED"
	TopicFeedbackReceived     Topic = "USER_FEEDBACK_RECEIVED"
	TopicImprovementRequested Topic = "SELF_IMPROVEMENT_REQUESTED"
	TopicImprovementCompleted Topic = "SELF_IMPROVEMENT_COMPLETED"
	TopicImprovementError     Topic = "SELF_IMPROVEMENT_ERROR"
	TopicAnalysisRequested    Topic = "PERFORMANCE_ANALYSIS_REQUESTED"
	TopicAnalysisCompleted    Topic = "PERFORMANCE_ANALYSIS_COMPLETED"
)

// =============================================================================
// TYPED PAYLOADS
// =============================================================================

// MetricsUpdated is published after a telemetry event lands. Nil pointer
// fields were not reported in this event. Extra carries passthrough fields
// the router does not interpret.
type MetricsUpdated struct {
	AgentID        string
	ResponseTimeMS *float64
	TokenUsage     *float64
	SuccessRate    *float64
	ErrorRate      *float64
	Extra          map[string]interface{}
}

// FeedbackReceived is published when a user scores an agent.
type FeedbackReceived struct {
	AgentID       string
	FeedbackScore float64
	Comments      string
}

// ImprovementRequested asks the optimization pipeline to mutate an agent.
type ImprovementRequested struct {
	AgentID    string
	SourceText string
	Goals      types.GoalSet
}

// ImprovementCompleted reports a finished optimization cycle.
type ImprovementCompleted struct {
	AgentID           string
	AppliedChangeCount int
	Timestamp         time.Time
}

// ImprovementError reports a failed optimization cycle.
type ImprovementError struct {
	AgentID   string
	Err       string
	Timestamp time.Time
}

// AnalysisRequested asks for a performance analysis. Empty AgentID means
// the whole population.
type AnalysisRequested struct {
	AgentID string
}

// AnalysisCompleted carries the analysis result.
type AnalysisCompleted struct {
	Report types.AnalysisReport
}

// =============================================================================
// ROUTER
// =============================================================================

// Event wraps a payload with routing metadata. IDs are globally monotonic,
// so same-topic consumers can rely on them for ordering.
type Event struct {
	ID        uint64
	Topic     Topic
	Timestamp time.Time
	Payload   interface{}
}

// Handler consumes events for a topic. Handlers for the same topic fire in
// subscription order; ordering across distinct topics is not guaranteed.
type Handler func(Event)

// Router is a minimal in-process pub/sub. Publish delivers synchronously in
// the caller's goroutine; handlers that do slow work must dispatch their own
// goroutines so the telemetry hot path never blocks.
type Router struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	sequence atomic.Uint64
	closed   atomic.Bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for a topic.
func (r *Router) Subscribe(topic Topic, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], h)
	logging.BusDebug("subscribed handler %d to %s", len(r.handlers[topic]), topic)
}

// Publish delivers payload to all current subscribers of topic, in
// subscription order. Publishing to a topic with no subscribers is a no-op.
func (r *Router) Publish(topic Topic, payload interface{}) {
	if r.closed.Load() {
		return
	}

	event := Event{
		ID:        r.sequence.Add(1),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	r.mu.RLock()
	handlers := make([]Handler, len(r.handlers[topic]))
	copy(handlers, r.handlers[topic])
	r.mu.RUnlock()

	logging.BusDebug("publish %s (seq=%d) to %d handlers", topic, event.ID, len(handlers))
	for _, h := range handlers {
		h(event)
	}
}

// Close stops further publishes. Already-dispatched handlers run to
// completion in their callers.
func (r *Router) Close() {
	r.closed.Store(true)
}

// Stats returns current router statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := 0
	for _, hs := range r.handlers {
		subs += len(hs)
	}
	return RouterStats{
		TopicCount:      len(r.handlers),
		SubscriberCount: subs,
		TotalPublished:  r.sequence.Load(),
	}
}

// RouterStats holds router counters.
type RouterStats struct {
	TopicCount      int
	SubscriberCount int
	TotalPublished  uint64
}
