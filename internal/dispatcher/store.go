package dispatcher

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

// Snapshot is one persisted stats reading.
type Snapshot struct {
	Dispatcher string           `json:"dispatcher"`
	Stats      proto.StatsReply `json:"stats"`
	CapturedAt time.Time        `json:"captured_at"`
}

// StatsStore keeps a history of dispatcher stats in the
// dispatcher_stats_snapshots table created by postgres.Migrate.
type StatsStore struct {
	db        *postgres.Client
	name      string
	retention int
	logger    *slog.Logger
}

// NewStatsStore records snapshots under name and keeps the newest retention
// rows per dispatcher (all rows when retention <= 0).
func NewStatsStore(db *postgres.Client, name string, retention int) *StatsStore {
	return &StatsStore{
		db:        db,
		name:      name,
		retention: retention,
		logger:    slog.Default().With("component", "stats-store"),
	}
}

func (s *StatsStore) SaveSnapshot(ctx context.Context, stats proto.StatsReply) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	live, pages := 0, int64(0)
	for _, n := range stats.Nodes {
		if n.Reachable {
			live++
			pages += int64(n.Stats.Pages)
		}
	}

	err = s.db.InTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dispatcher_stats_snapshots (dispatcher, live_nodes, total_pages, data, captured_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			s.name, live, pages, data, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}
		if s.retention <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM dispatcher_stats_snapshots
			 WHERE dispatcher = $1 AND id NOT IN (
			     SELECT id FROM dispatcher_stats_snapshots
			     WHERE dispatcher = $1 ORDER BY captured_at DESC LIMIT $2)`,
			s.name, s.retention,
		)
		if err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("stats snapshot saved", "live_nodes", live, "total_pages", pages)
	return nil
}

// Latest returns the newest snapshot, or nil if none exist.
func (s *StatsStore) Latest(ctx context.Context) (*Snapshot, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// List returns up to limit snapshots, newest first.
func (s *StatsStore) List(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data, captured_at FROM dispatcher_stats_snapshots
		 WHERE dispatcher = $1 ORDER BY captured_at DESC LIMIT $2`,
		s.name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var data []byte
		snap := Snapshot{Dispatcher: s.name}
		if err := rows.Scan(&data, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}

// StartPeriodicSave snapshots d's stats every interval and once more when ctx
// is cancelled. The returned channel closes after the final save.
func (s *StatsStore) StartPeriodicSave(ctx context.Context, d *Dispatcher, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, d.Stats(ctx)); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, d.Stats(shutdownCtx)); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic stats snapshots started", "interval", interval)
	return done
}
