package api

import "swing-core/internal/engine"

// EngineSnapshotProvider gives the dashboard read access to the single
// engine this server fronts.
type EngineSnapshotProvider interface {
	LatestSnapshot() (engine.Snapshot, bool)
	DashboardEvents() <-chan DashboardEvent
}

// BuildSnapshot reads the engine's latest emission and converts it to the
// dashboard wire format. The zero-value EngineSnapshot (Ready=false) is
// returned before the engine has emitted anything yet.
func BuildSnapshot(provider EngineSnapshotProvider) EngineSnapshot {
	snap, ok := provider.LatestSnapshot()
	if !ok {
		return EngineSnapshot{}
	}
	return NewEngineSnapshot(snap)
}
