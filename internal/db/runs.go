package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/articulate/internal/session"
)

// DefaultRecentRuns is the page size used when Recent is given limit <= 0.
const DefaultRecentRuns = 50

// RecordRun implements session.RunRecorder.
func (db *DB) RecordRun(ctx context.Context, run session.Run) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO playback_runs (run_id, session_id, animation, started_ns, ended_ns, frames_emitted, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.Animation,
		run.Started.UnixNano(), run.Ended.UnixNano(),
		run.FramesEmitted, run.Outcome,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]session.Run, error) {
	if limit <= 0 {
		limit = DefaultRecentRuns
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, session_id, animation, started_ns, ended_ns, frames_emitted, outcome
		FROM playback_runs
		ORDER BY started_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []session.Run{}
	for rows.Next() {
		var r session.Run
		var started, ended int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Animation, &started, &ended, &r.FramesEmitted, &r.Outcome); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, started).UTC()
		r.Ended = time.Unix(0, ended).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
