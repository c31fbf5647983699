package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Waffleophagus/claw-rubber/dbopen"
)

// PurgeExpiredData deletes expired search results and trims fetch events,
// flagged payloads and search requests older than retentionDays. Returns
// the total number of rows removed.
func (s *Store) PurgeExpiredData(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()

	var total int64
	statements := []struct {
		query string
		arg   int64
	}{
		{`DELETE FROM search_results WHERE expires_at <= ?`, now},
		{`DELETE FROM flagged_payloads WHERE created_at < ?`, cutoff},
		{`DELETE FROM fetch_events WHERE created_at < ?`, cutoff},
		{`DELETE FROM search_requests WHERE created_at < ?`, cutoff},
	}
	for _, st := range statements {
		res, err := dbopen.Exec(ctx, s.db, st.query, st.arg)
		if err != nil {
			return total, fmt.Errorf("store: purge: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// Sweeper periodically purges expired data. Sweep failures are logged and
// swallowed; live requests never notice.
type Sweeper struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

// NewSweeper creates a Sweeper. interval <= 0 defaults to 30 minutes.
func NewSweeper(s *Store, retentionDays int, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: s, retentionDays: retentionDays, interval: interval, logger: logger}
}

// Start runs the sweep loop until ctx is cancelled. One sweep runs
// immediately so restarts do not postpone cleanup by a full interval.
func (w *Sweeper) Start(ctx context.Context) {
	go func() {
		w.sweep(ctx)
		tick := time.NewTicker(w.interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				w.sweep(ctx)
			}
		}
	}()
}

func (w *Sweeper) sweep(ctx context.Context) {
	n, err := w.store.PurgeExpiredData(ctx, w.retentionDays)
	if err != nil {
		w.logger.Warn("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("retention sweep", "rows_removed", n)
	}
}
