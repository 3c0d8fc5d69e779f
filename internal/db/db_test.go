package db

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/articulate/internal/landmarks"
	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/session"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func animation(t *testing.T, name string, frames int) *landmarks.ReferenceAnimation {
	t.Helper()
	sets := make([]landmarks.LandmarkSet, frames)
	for f := range sets {
		sets[f] = landmarks.LandmarkSet{{X: float64(f), Y: 1.5}, {X: 2, Y: float64(f) * 0.25}, {X: -3, Y: 4}}
	}
	anim, err := landmarks.NewReferenceAnimation(name, sets)
	require.NoError(t, err)
	return anim
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// idempotent
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'playback_runs'`).Scan(&n))
	assert.Zero(t, n)
}

func TestMigrateVersion_Fresh(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestImportAndLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	want := animation(t, "ah", 4)

	require.NoError(t, db.ImportAnimation(ctx, "ah", want))

	got, err := db.Load(ctx, "ah")
	require.NoError(t, err)
	assert.Equal(t, "ah", got.Name())
	if diff := cmp.Diff(want.Frames(), got.Frames()); diff != "" {
		t.Errorf("loaded frames mismatch (-want +got):\n%s", diff)
	}
}

func TestImportReplaces(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ImportAnimation(ctx, "ah", animation(t, "ah", 5)))
	require.NoError(t, db.ImportAnimation(ctx, "ah", animation(t, "ah", 2)))
	require.NoError(t, db.ImportAnimation(ctx, "oh", animation(t, "oh", 3)))

	got, err := db.Load(ctx, "ah")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())

	list, err := db.Animations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ah", list[0].Name)
	assert.Equal(t, 2, list[0].Frames)
	assert.Equal(t, 3, list[0].Cardinality)
	assert.Equal(t, "oh", list[1].Name)
	assert.WithinDuration(t, time.Now(), list[1].Imported, time.Minute)
}

func TestLoad_Errors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrAnimationNotFound)

	assert.Error(t, db.ImportAnimation(ctx, "", animation(t, "x", 1)))

	// an animation row with no points
	_, err = db.Exec(`INSERT INTO reference_animations (name, frames, cardinality, imported_ns) VALUES ('empty', 0, 0, 0)`)
	require.NoError(t, err)
	_, err = db.Load(ctx, "empty")
	assert.ErrorIs(t, err, landmarks.ErrEmptyAnimation)
}

func TestLoader(t *testing.T) {
	var _ landmarks.Loader = (*DB)(nil)
	var _ session.RunRecorder = (*DB)(nil)
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, outcome := range []string{monitoring.OutcomeCompleted, monitoring.OutcomeCancelled, monitoring.OutcomeDisconnected} {
		require.NoError(t, db.RecordRun(ctx, session.Run{
			ID:            "run-" + outcome,
			SessionID:     "s1",
			Animation:     "ah",
			Started:       base.Add(time.Duration(i) * time.Minute),
			Ended:         base.Add(time.Duration(i)*time.Minute + 3*time.Second),
			FramesEmitted: 10 * i,
			Outcome:       outcome,
		}))
	}

	runs, err := db.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-disconnected", runs[0].ID)
	assert.Equal(t, 20, runs[0].FramesEmitted)
	assert.True(t, runs[0].Started.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, "run-cancelled", runs[1].ID)

	all, err := db.RecentRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// duplicate ID and unknown outcome are rejected
	assert.Error(t, db.RecordRun(ctx, session.Run{ID: "run-completed", Outcome: monitoring.OutcomeCompleted}))
	assert.Error(t, db.RecordRun(ctx, session.Run{ID: "x", Outcome: "exploded"}))
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
}
