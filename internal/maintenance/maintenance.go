// Package maintenance runs the periodic decay/prune/hard-delete job
// (spec §4.9): four ordered phases producing a {decayed, pruned,
// hard_deleted} report, scheduled with robfig/cron in the pack's
// Scheduler idiom and emitting a MaintenanceRan pulse on completion.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/confidence"
	"github.com/mycelicmemory/memcore/internal/eventbus"
	"github.com/mycelicmemory/memcore/internal/ftindex"
	"github.com/mycelicmemory/memcore/internal/logging"
	"github.com/mycelicmemory/memcore/internal/metrics"
	"github.com/mycelicmemory/memcore/pkg/config"
)

var log = logging.GetLogger("maintenance")

// Report is the phase-count result of a single run.
type Report struct {
	Decayed     int
	Pruned      int
	HardDeleted int
	DryRun      bool
	Duration    time.Duration
}

// Job runs the decay/prune/hard-delete pipeline against a Store. Vectors
// and FullText are optional index handles whose entries are removed
// alongside a pruned or hard-deleted memory; a nil handle is treated as
// "nothing to clean up" rather than an error, since the Store remains
// the source of truth and indices are reconstructible from it.
type Job struct {
	store    backend.MetadataStore
	vectors  backend.VectorStore
	fulltext *ftindex.Index
	bus      *eventbus.Bus
	metrics  *metrics.Maintenance
	cfg      config.MaintenanceConfig

	mu   sync.Mutex // advisory lock: only one run proceeds at a time
	cron *cron.Cron
}

// New builds a maintenance Job. bus, fulltext and metricsCollector may be nil.
func New(store backend.MetadataStore, vectors backend.VectorStore, fulltext *ftindex.Index, bus *eventbus.Bus, metricsCollector *metrics.Maintenance, cfg config.MaintenanceConfig) *Job {
	return &Job{store: store, vectors: vectors, fulltext: fulltext, bus: bus, metrics: metricsCollector, cfg: cfg}
}

// Start schedules RunOnce on the given cron expression (e.g.
// "0 3 * * *") and returns immediately; the schedule keeps running
// until ctx is cancelled or Stop is called.
func (j *Job) Start(ctx context.Context, cronExpr string) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(cronExpr, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			log.Warn("scheduled maintenance run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance: invalid cron expression %q: %w", cronExpr, err)
	}
	j.cron.Start()
	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// Stop ends the cron schedule. A run already in progress completes.
func (j *Job) Stop() {
	if j.cron != nil {
		stopCtx := j.cron.Stop()
		<-stopCtx.Done()
	}
}

// RunOnce executes the four phases synchronously and returns their
// counts. The advisory lock (j.mu) serializes concurrent RunOnce calls
// against each other; Retrieval reads are unaffected since the Store
// itself is where consistency is enforced.
func (j *Job) RunOnce(ctx context.Context) (Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	report := Report{DryRun: j.cfg.DryRun}

	now := time.Now().UTC()
	minAge := j.cfg.MinAgeDays
	if minAge <= 0 {
		minAge = 30
	}
	hardRetention := j.cfg.HardRetentionDays
	if hardRetention <= 0 {
		hardRetention = 90
	}

	decayed, err := j.decayPhase(ctx, now, minAge)
	if err != nil {
		j.recordOutcome("failed")
		return report, fmt.Errorf("maintenance: decay phase: %w", err)
	}
	report.Decayed = decayed
	j.observePhase("decay", start)

	pruneStart := time.Now()
	pruned, err := j.prunePhase(ctx, now, minAge)
	if err != nil {
		j.recordOutcome("failed")
		return report, fmt.Errorf("maintenance: prune phase: %w", err)
	}
	report.Pruned = pruned
	j.observePhase("prune", pruneStart)

	deleteStart := time.Now()
	deleted, err := j.hardDeletePhase(ctx, now, hardRetention)
	if err != nil {
		j.recordOutcome("failed")
		return report, fmt.Errorf("maintenance: hard delete phase: %w", err)
	}
	report.HardDeleted = deleted
	j.observePhase("hard_delete", deleteStart)

	report.Duration = time.Since(start)
	j.recordOutcome("ok")
	if j.metrics != nil {
		j.metrics.Decayed.Set(float64(report.Decayed))
		j.metrics.Pruned.Set(float64(report.Pruned))
		j.metrics.HardDeleted.Set(float64(report.HardDeleted))
	}
	if j.bus != nil {
		j.bus.Publish(eventbus.Pulse{Type: eventbus.PulseMaintenanceRan, Count: report.Decayed + report.Pruned + report.HardDeleted})
	}
	return report, nil
}

// decayPhase reduces importance by decay_rate·days_since_last_access/30
// for every non-forgotten memory older than min_age_days, and applies
// the parallel confidence decay (spec §4.5).
func (j *Job) decayPhase(ctx context.Context, now time.Time, minAgeDays float64) (int, error) {
	candidates, err := j.store.Query(ctx, backend.MemoryFilter{MaxResults: 0})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range candidates {
		if m.Forgotten {
			continue
		}
		ageDays := now.Sub(m.CreatedAt).Hours() / 24
		if ageDays < minAgeDays {
			continue
		}
		sinceAccess := now.Sub(m.LastAccessedAt).Hours() / 24
		if sinceAccess < 0 {
			sinceAccess = 0
		}
		newImportance := m.Importance - j.cfg.DecayRate*sinceAccess/30
		if newImportance < 0 {
			newImportance = 0
		}
		if newImportance == m.Importance {
			continue
		}
		count++
		if j.cfg.DryRun {
			continue
		}
		m.Importance = newImportance
		confidence.Decay(&m.Confidence, sinceAccess, 0, now)
		if err := j.store.Update(ctx, m); err != nil {
			return count, err
		}
	}
	return count, nil
}

// prunePhase soft-deletes memories that have become unimportant, never
// accessed, and old enough, removing their vector index entry.
func (j *Job) prunePhase(ctx context.Context, now time.Time, minAgeDays float64) (int, error) {
	candidates, err := j.store.Query(ctx, backend.MemoryFilter{MaxResults: 0})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range candidates {
		if m.Forgotten {
			continue
		}
		ageDays := now.Sub(m.CreatedAt).Hours() / 24
		if ageDays <= minAgeDays {
			continue
		}
		if m.AccessCount != 0 {
			continue
		}
		if m.Importance >= j.cfg.PruneThreshold {
			continue
		}
		count++
		if j.cfg.DryRun {
			continue
		}
		if err := j.store.Forget(ctx, m.ID); err != nil {
			return count, err
		}
		if j.vectors != nil {
			if err := j.vectors.Remove(ctx, m.ID); err != nil {
				log.Warn("vector removal failed during prune", "id", m.ID, "error", err)
			}
		}
		if j.fulltext != nil {
			if err := j.fulltext.Remove(ctx, m.ID); err != nil {
				log.Warn("fulltext removal failed during prune", "id", m.ID, "error", err)
			}
		}
		if j.bus != nil {
			j.bus.Publish(eventbus.Pulse{Type: eventbus.PulseForgotten, MemoryID: m.ID})
		}
	}
	return count, nil
}

// hardDeletePhase physically removes memories forgotten longer than
// hardRetentionDays, along with their incident edges (cascaded by the
// Store's HardDelete).
func (j *Job) hardDeletePhase(ctx context.Context, now time.Time, hardRetentionDays float64) (int, error) {
	candidates, err := j.store.Query(ctx, backend.MemoryFilter{IncludeForgotten: true, MaxResults: 0})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range candidates {
		if !m.Forgotten || m.ForgottenAt == nil {
			continue
		}
		ageDays := now.Sub(*m.ForgottenAt).Hours() / 24
		if ageDays < hardRetentionDays {
			continue
		}
		count++
		if j.cfg.DryRun {
			continue
		}
		if err := j.store.HardDelete(ctx, m.ID); err != nil {
			return count, err
		}
		if j.vectors != nil {
			if err := j.vectors.Remove(ctx, m.ID); err != nil {
				log.Warn("vector removal failed during hard delete", "id", m.ID, "error", err)
			}
		}
		if j.fulltext != nil {
			if err := j.fulltext.Remove(ctx, m.ID); err != nil {
				log.Warn("fulltext removal failed during hard delete", "id", m.ID, "error", err)
			}
		}
	}
	return count, nil
}

func (j *Job) observePhase(phase string, start time.Time) {
	if j.metrics != nil {
		j.metrics.RunDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

func (j *Job) recordOutcome(outcome string) {
	if j.metrics != nil {
		j.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	}
}
