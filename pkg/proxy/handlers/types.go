package handlers

import (
	"context"

	"mercator-hq/warden/pkg/cache"
	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/policy/manager"
	"mercator-hq/warden/pkg/providers"
	"mercator-hq/warden/pkg/routing"
)

// Processor governs one chat completion. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error)
}

// SnapshotSource exposes the active policy set. *manager.Manager
// implements it.
type SnapshotSource interface {
	Snapshot() *manager.Snapshot
}

// StatsSources are the counters StatsHandler reports. Nil fields are
// omitted from the output.
type StatsSources struct {
	Pipeline func() pipeline.Stats
	Cache    func() cache.Stats
	Routing  func() routing.Snapshot
	Upstream func() providers.Health
	Policies SnapshotSource
}
