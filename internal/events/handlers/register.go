package handlers

import (
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
)

// EventHandlers builds the cqrs handlers for the bus. sse may be nil when the API is disabled.
func EventHandlers(trigger *SyncTriggerHandler, sse *SSEEventHandler) []cqrs.EventHandler {
	handlers := []cqrs.EventHandler{
		cqrs.NewEventHandler("SyncTriggerOnFixCaptured", trigger.HandleFixCaptured),
	}
	if sse != nil {
		handlers = append(handlers,
			cqrs.NewEventHandler("SSEOnFixCaptured", sse.HandleFixCaptured),
			cqrs.NewEventHandler("SSEOnSyncPassCompleted", sse.HandleSyncPassCompleted),
			cqrs.NewEventHandler("SSEOnLifecycleChanged", sse.HandleLifecycleChanged),
		)
	}
	return handlers
}
