package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/protocol"
)

// Cancellation causes for a playback run.
var (
	errStopped      = errors.New("playback stopped")
	errDisconnected = errors.New("client disconnected")
)

const recordTimeout = 2 * time.Second

type playbackRun struct {
	id     string
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// startPlayback launches the playback goroutine for ls. The caller must
// have cancelled any previous run.
func (m *Manager) startPlayback(ctx context.Context, ls *liveSession) {
	runCtx, cancel := context.WithCancelCause(ctx)
	run := &playbackRun{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	ls.pbMu.Lock()
	ls.pb = run
	ls.pbMu.Unlock()

	go m.runPlayback(runCtx, ls, run)
}

// cancelPlayback stops the current run, if any, and waits for its
// goroutine to exit. No frame from the run is queued after it returns.
func (ls *liveSession) cancelPlayback(cause error) {
	ls.pbMu.Lock()
	run := ls.pb
	ls.pb = nil
	ls.pbMu.Unlock()
	if run == nil {
		return
	}
	run.cancel(cause)
	<-run.done
}

// runPlayback streams the reference animation one frame per interval. A
// frame is produced only once an alignment exists; until then the loop
// polls every interval. Frames are never skipped: a full send queue blocks
// the loop.
func (m *Manager) runPlayback(ctx context.Context, ls *liveSession, run *playbackRun) {
	defer close(run.done)

	log := ls.log.With().Str("run", run.id).Logger()
	started := m.clock.Now()
	emitted := 0
	outcome := monitoring.OutcomeCompleted
	waiting := false

	defer func() {
		m.metrics.PlaybackFinished(outcome)
		log.Info().Int("frames", emitted).Str("outcome", outcome).
			Dur("elapsed", m.clock.Since(started)).Msg("playback finished")
		m.recordRun(ctx, Run{
			ID:            run.id,
			SessionID:     ls.sess.ID(),
			Animation:     m.anim.Name(),
			Started:       started,
			Ended:         m.clock.Now(),
			FramesEmitted: emitted,
			Outcome:       outcome,
		})
	}()

	log.Info().Int("frames", m.anim.Len()).Msg("playback started")
	for {
		tick := m.clock.Now()
		step := ls.sess.NextReferenceFrame()

		switch step.Status {
		case StepInactive:
			outcome = cancelOutcome(ctx)
			return

		case StepNotReady:
			if !waiting {
				log.Debug().Msg("waiting for a user frame to align against")
				waiting = true
			}
			if err := m.clock.Sleep(ctx, m.cfg.FrameInterval); err != nil {
				outcome = cancelOutcome(ctx)
				return
			}
			continue

		case StepEmitted:
			msg := protocol.Reference(step.Frame, m.regions, step.Cursor, step.Total, m.cfg.RoundPoints)
			if !ls.send(ctx, msg) {
				outcome = cancelOutcome(ctx)
				return
			}
			emitted++
			m.metrics.ObserveFrame(m.clock.Since(tick))
			log.Debug().Int("cursor", step.Cursor).Msg("frame emitted")

			if step.Last {
				ls.send(ctx, protocol.Completed(step.Total))
				ls.send(ctx, protocol.Status(Idle.String(), ls.sess.Fixed()))
				return
			}
		}

		sleep := m.cfg.FrameInterval - m.clock.Since(tick)
		if sleep < m.cfg.MinSleep {
			sleep = m.cfg.MinSleep
		}
		if err := m.clock.Sleep(ctx, sleep); err != nil {
			outcome = cancelOutcome(ctx)
			return
		}
	}
}

func cancelOutcome(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), errStopped) {
		return monitoring.OutcomeCancelled
	}
	return monitoring.OutcomeDisconnected
}

func (m *Manager) recordRun(ctx context.Context, run Run) {
	if m.runs == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := m.runs.RecordRun(rctx, run); err != nil {
		monitoring.Logf("[Playback] failed to record run %s: %v", run.ID, err)
	}
}
