package memory

import "github.com/tailored-agentic-units/sharedmem/observability"

// Memory event types.
const (
	EventOpen         observability.EventType = "memory.open"
	EventPreload      observability.EventType = "memory.preload"
	EventClose        observability.EventType = "memory.close"
	EventSpoolRestore observability.EventType = "spool.restore"
	EventSpoolSave    observability.EventType = "spool.save"
)
