package events

import (
	"time"

	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

// Observer publishes orchestrator progress to a Hub.
type Observer struct {
	hub *Hub
}

var _ orchestrator.Observer = (*Observer)(nil)

func NewObserver(hub *Hub) *Observer {
	return &Observer{hub: hub}
}

func (o *Observer) StateChanged(state orchestrator.State) {
	o.hub.Publish(TypeStateChanged, map[string]any{"state": state})
}

func (o *Observer) SnapshotCreated(snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	o.hub.Publish(TypeSnapshotCreated, map[string]any{
		"name":  snap.Name,
		"path":  snap.Path,
		"files": len(snap.Files),
		"bytes": snap.Bytes,
	})
}

func (o *Observer) StageFinished(name string, status runlog.Status, duration time.Duration) {
	o.hub.Publish(TypeStageFinished, map[string]any{
		"stage":       name,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
}

func (o *Observer) RunFinished(state orchestrator.State, duration time.Duration) {
	o.hub.Publish(TypeRunFinished, map[string]any{
		"state":       state,
		"duration_ms": duration.Milliseconds(),
	})
}
