package engine

import (
	"time"

	"github.com/sage3/foresight/pkg/channel"
	"github.com/sage3/foresight/pkg/dispatch"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/scheduler"
)

// DedupStats counts deduplicator decisions.
type DedupStats struct {
	Tracked    int    `json:"tracked"`
	Forwarded  uint64 `json:"forwarded"`
	Suppressed uint64 `json:"suppressed"`
}

// Status is the daemon's self report, served on /api/status.
type Status struct {
	StartedAt      time.Time            `json:"started_at"`
	Uptime         string               `json:"uptime"`
	Channel        channel.Status       `json:"channel"`
	Apps           int                  `json:"apps"`
	Pending        int                  `json:"pending"`
	Dedup          DedupStats           `json:"dedup"`
	Results        dispatch.Stats       `json:"results"`
	Kernel         kernel.HealthReport  `json:"kernel"`
	Tasks          []scheduler.TaskInfo `json:"tasks"`
	Malformed      uint64               `json:"malformed"`
	DroppedActions uint64               `json:"dropped_actions"`
	Variants       []string             `json:"variants"`
}

// Status snapshots every component.
func (e *Engine) Status() Status {
	forwarded, suppressed := e.dedup.Stats()
	s := Status{
		StartedAt: e.startedAt,
		Channel:   e.client.Status(),
		Apps:      e.registry.Len(),
		Pending:   e.proxy.Len(),
		Dedup: DedupStats{
			Tracked:    e.dedup.Len(),
			Forwarded:  forwarded,
			Suppressed: suppressed,
		},
		Results:        e.dispatcher.Stats(),
		Kernel:         e.health.Last(),
		Tasks:          e.scheduler.Tasks(),
		Malformed:      e.malformed.Load(),
		DroppedActions: e.dropped.Load(),
		Variants:       e.factory.Types(),
	}
	if !e.startedAt.IsZero() {
		s.Uptime = time.Since(e.startedAt).Round(time.Second).String()
	}
	return s
}
