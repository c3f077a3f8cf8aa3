package worker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// RetentionWorker trims the event log in batches. DELIVERED rows feed the
// intelligent-send cap and show cooldown, so their retention never drops
// below the longer of those two windows.

const (
	DefaultRetentionInterval   = 1 * time.Hour
	DefaultEngagementRetention = 180 * 24 * time.Hour
	DefaultDeliveryRetention   = 400 * 24 * time.Hour

	retentionBatchSize = 10000
)

type RetentionConfig struct {
	Interval time.Duration
	// Engagement covers OPEN and CLICK events.
	Engagement time.Duration
	// Delivery covers DELIVERED, BOUNCE, COMPLAINT and UNSUBSCRIBE events.
	Delivery time.Duration
	// MinDelivery is the shortest history the eligibility guard reads.
	MinDelivery time.Duration
}

type RetentionWorker struct {
	db    *sql.DB
	cfg   RetentionConfig
	log   *logger.Entry
	now   func() time.Time
	pause time.Duration
}

func NewRetentionWorker(db *sql.DB, cfg RetentionConfig) *RetentionWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetentionInterval
	}
	if cfg.Engagement <= 0 {
		cfg.Engagement = DefaultEngagementRetention
	}
	if cfg.Delivery <= 0 {
		cfg.Delivery = DefaultDeliveryRetention
	}
	if cfg.Delivery < cfg.MinDelivery {
		cfg.Delivery = cfg.MinDelivery
	}
	return &RetentionWorker{
		db:    db,
		cfg:   cfg,
		log:   logger.With("component", "retention"),
		now:   time.Now,
		pause: 100 * time.Millisecond,
	}
}

// Start runs a cycle immediately and then every interval until ctx ends.
func (rw *RetentionWorker) Start(ctx context.Context) {
	rw.log.Info("starting", "interval", rw.cfg.Interval.String(),
		"engagement", rw.cfg.Engagement.String(), "delivery", rw.cfg.Delivery.String())
	rw.RunOnce(ctx)

	ticker := time.NewTicker(rw.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rw.log.Info("stopping")
			return
		case <-ticker.C:
			rw.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup cycle and returns the rows removed.
func (rw *RetentionWorker) RunOnce(ctx context.Context) int64 {
	start := rw.now()
	engagement := rw.batchDelete(ctx, "engagement", `
		DELETE FROM marketing_email_events
		WHERE id IN (
			SELECT id FROM marketing_email_events
			WHERE type IN ('OPEN', 'CLICK') AND created_at < $2
			LIMIT $1
		)
	`, start.Add(-rw.cfg.Engagement))
	delivery := rw.batchDelete(ctx, "delivery", `
		DELETE FROM marketing_email_events
		WHERE id IN (
			SELECT id FROM marketing_email_events
			WHERE type NOT IN ('OPEN', 'CLICK') AND created_at < $2
			LIMIT $1
		)
	`, start.Add(-rw.cfg.Delivery))

	if engagement+delivery > 0 {
		rw.log.Info("retention cycle finished", "engagement_deleted", engagement, "delivery_deleted", delivery,
			"took", time.Since(start).Round(time.Millisecond).String())
	}
	return engagement + delivery
}

// batchDelete repeats query with retentionBatchSize as $1 until nothing
// is affected. A missing table ends the loop quietly.
func (rw *RetentionWorker) batchDelete(ctx context.Context, label, query string, cutoff time.Time) int64 {
	var total int64
	for {
		if ctx.Err() != nil {
			return total
		}
		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := rw.db.ExecContext(queryCtx, query, retentionBatchSize, cutoff)
		cancel()
		if err != nil {
			if isUndefinedTable(err) {
				if total == 0 {
					rw.log.Warn("event table missing, skipping", "set", label)
				}
				return total
			}
			rw.log.Error("retention delete failed", "set", label, "error", err)
			return total
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return total
		}
		total += affected
		if affected < retentionBatchSize {
			return total
		}

		select {
		case <-ctx.Done():
			return total
		case <-time.After(rw.pause):
		}
	}
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}
