package observability

import "context"

// NoOpObserver drops every event.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}

// MultiObserver delivers each event to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m {
		obs.OnEvent(ctx, event)
	}
}

// Multi combines observers, skipping nil ones. It returns NoOpObserver when
// none remain and the observer itself when only one does.
func Multi(observers ...Observer) Observer {
	var out MultiObserver
	for _, obs := range observers {
		if obs != nil {
			out = append(out, obs)
		}
	}
	switch len(out) {
	case 0:
		return NoOpObserver{}
	case 1:
		return out[0]
	}
	return out
}
