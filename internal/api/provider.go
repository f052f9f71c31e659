package api

import (
	"context"

	"swing-core/internal/engine"
)

// engineProvider adapts *engine.Engine to EngineSnapshotProvider. The
// engine already folds every order/kill-switch state change into its next
// snapshot emission (§4.6 Emission), so the dashboard narrows "snapshot
// emissions plus discrete fill/order/kill events" down to one event type:
// every snapshot emission is forwarded as a "snapshot" DashboardEvent.
type engineProvider struct {
	eng    *engine.Engine
	events chan DashboardEvent
}

// NewProvider wraps eng for use by Server/Handlers, forwarding every
// snapshot emission onto the returned provider's event channel until ctx
// is cancelled.
func NewProvider(ctx context.Context, eng *engine.Engine) EngineSnapshotProvider {
	p := &engineProvider{
		eng:    eng,
		events: make(chan DashboardEvent, 64),
	}

	snapshots, unsubscribe := eng.Subscribe(64)
	go func() {
		defer unsubscribe()
		defer close(p.events)
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				evt := DashboardEvent{
					Type:      "snapshot",
					Timestamp: snap.Time,
					Data:      NewEngineSnapshot(snap),
				}
				select {
				case p.events <- evt:
				default:
					// Slow dashboard consumer; drop rather than block the engine.
				}
			}
		}
	}()

	return p
}

func (p *engineProvider) LatestSnapshot() (engine.Snapshot, bool) {
	return p.eng.LatestSnapshot()
}

func (p *engineProvider) DashboardEvents() <-chan DashboardEvent {
	return p.events
}
