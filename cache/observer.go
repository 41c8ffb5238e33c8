package cache

import "github.com/tailored-agentic-units/sharedmem/observability"

// Cache event types.
const (
	EventQueued   observability.EventType = "cache.queued"
	EventFlushed  observability.EventType = "cache.flushed"
	EventSkipped  observability.EventType = "cache.skipped"
	EventFallback observability.EventType = "cache.fallback"
	EventDrain    observability.EventType = "cache.drain"
)
