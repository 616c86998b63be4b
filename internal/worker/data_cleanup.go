package worker

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"
)

// =============================================================================
// DATA CLEANUP WORKER: prunes tick history, finished enrollments and old
// outreach markers from the automation tables.
// =============================================================================
// Deletes run in batches so no single statement holds row locks for long.

const (
	DefaultCleanupInterval = 1 * time.Hour

	cleanupBatchSize = 10000
)

// Retention is how long each kind of row is kept. Zero disables that prune.
type Retention struct {
	TickRuns            time.Duration
	FinishedEnrollments time.Duration
	OutreachMarkers     time.Duration
}

// DefaultRetention keeps outreach markers well past the longest nudge
// cooldown and finished enrollments long enough for exit lookups.
var DefaultRetention = Retention{
	TickRuns:            30 * 24 * time.Hour,
	FinishedEnrollments: 180 * 24 * time.Hour,
	OutreachMarkers:     90 * 24 * time.Hour,
}

// DataCleanupWorker periodically removes old rows from the automation tables.
type DataCleanupWorker struct {
	db        *sql.DB
	interval  time.Duration
	retention Retention
	now       func() time.Time
	pause     time.Duration
}

func NewDataCleanupWorker(db *sql.DB, retention Retention) *DataCleanupWorker {
	return &DataCleanupWorker{
		db:        db,
		interval:  DefaultCleanupInterval,
		retention: retention,
		now:       time.Now,
		pause:     100 * time.Millisecond,
	}
}

// SetInterval overrides how often the cleanup cycle runs.
func (dc *DataCleanupWorker) SetInterval(d time.Duration) {
	if d > 0 {
		dc.interval = d
	}
}

func (dc *DataCleanupWorker) SetClock(now func() time.Time) { dc.now = now }

// Start begins the cleanup loop. It blocks until ctx is cancelled.
func (dc *DataCleanupWorker) Start(ctx context.Context) {
	log.Printf("[DataCleanup] Starting (interval=%s, batch_size=%d)", dc.interval, cleanupBatchSize)

	dc.Cleanup(ctx)

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DataCleanup] Stopping")
			return
		case <-ticker.C:
			dc.Cleanup(ctx)
		}
	}
}

// CleanupResult counts the rows removed per table in one cycle.
type CleanupResult struct {
	TickRuns    int64
	Enrollments int64
	Outreach    int64
}

// Cleanup runs one cycle.
func (dc *DataCleanupWorker) Cleanup(ctx context.Context) CleanupResult {
	start := time.Now()
	now := dc.now().UTC()
	var res CleanupResult

	if r := dc.retention.TickRuns; r > 0 {
		res.TickRuns = dc.batchDelete(ctx, "automation_tick_runs", `
			DELETE FROM automation_tick_runs
			WHERE id IN (
				SELECT id FROM automation_tick_runs
				WHERE finished_at < $2
				LIMIT $1
			)`, now.Add(-r))
	}

	if r := dc.retention.FinishedEnrollments; r > 0 {
		res.Enrollments = dc.batchDelete(ctx, "automation_enrollments", `
			DELETE FROM automation_enrollments
			WHERE id IN (
				SELECT id FROM automation_enrollments
				WHERE status IN ('completed', 'exited')
				  AND updated_at < $2
				LIMIT $1
			)`, now.Add(-r))
	}

	if r := dc.retention.OutreachMarkers; r > 0 {
		res.Outreach = dc.batchDelete(ctx, "automation_tags", `
			DELETE FROM automation_tags
			WHERE id IN (
				SELECT id FROM automation_tags
				WHERE NOT is_unique
				  AND label LIKE 'outreach:%'
				  AND created_at < $2
				LIMIT $1
			)`, now.Add(-r))
	}

	if res.TickRuns+res.Enrollments+res.Outreach > 0 {
		log.Printf("[DataCleanup] Removed %d tick runs, %d finished enrollments, %d outreach markers in %s",
			res.TickRuns, res.Enrollments, res.Outreach, time.Since(start).Round(time.Millisecond))
	}
	return res
}

// batchDelete runs query with cleanupBatchSize as $1 and cutoff as $2 until
// no rows are affected, and returns the total. A missing table is logged
// once and skipped so the worker is safe before migrations run.
func (dc *DataCleanupWorker) batchDelete(ctx context.Context, table, query string, cutoff time.Time) int64 {
	var totalDeleted int64

	for {
		if ctx.Err() != nil {
			return totalDeleted
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := dc.db.ExecContext(queryCtx, query, cleanupBatchSize, cutoff)
		cancel()

		if err != nil {
			if isTableNotExistsError(err) {
				if totalDeleted == 0 {
					log.Printf("[DataCleanup] Table %s does not exist, skipping", table)
				}
				return totalDeleted
			}
			log.Printf("[DataCleanup] Error deleting from %s: %v", table, err)
			return totalDeleted
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			return totalDeleted
		}
		totalDeleted += affected
		if affected < cleanupBatchSize {
			return totalDeleted
		}

		time.Sleep(dc.pause)
	}
}

func isTableNotExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")
}
