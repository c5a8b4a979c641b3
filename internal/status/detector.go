package status

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brianly1003/sw/internal/domain"
	"github.com/brianly1003/sw/internal/domain/events"
	"github.com/brianly1003/sw/internal/domain/ports"
	"github.com/brianly1003/sw/internal/state"
)

// sessionProbe is the detector's per-session memory between ticks.
type sessionProbe struct {
	lastSnapshot string
	inFlight     bool
}

// Detector polls live sessions, classifies their pane content, and writes
// status transitions back to the store. The host drives it via Tick; the
// detector never schedules itself.
type Detector struct {
	mux          ports.Multiplexer
	store        *state.Store
	hub          ports.EventHub
	rules        []Rule
	captureLines int
	logger       *slog.Logger

	mu     sync.Mutex
	probes map[string]*sessionProbe
}

// NewDetector creates a detector. hub may be nil when no one is listening
// for transition events.
func NewDetector(mux ports.Multiplexer, store *state.Store, hub ports.EventHub, rules []Rule, captureLines int, logger *slog.Logger) *Detector {
	if captureLines <= 0 {
		captureLines = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		mux:          mux,
		store:        store,
		hub:          hub,
		rules:        rules,
		captureLines: captureLines,
		logger:       logger,
		probes:       make(map[string]*sessionProbe),
	}
}

// beginProbe claims a session for this tick. Returns false when a probe
// from a previous tick is still running; two classifications never run
// concurrently for one session.
func (d *Detector) beginProbe(tmuxName string) (*sessionProbe, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	probe, ok := d.probes[tmuxName]
	if !ok {
		probe = &sessionProbe{}
		d.probes[tmuxName] = probe
	}
	if probe.inFlight {
		return nil, false
	}
	probe.inFlight = true
	return probe, true
}

func (d *Detector) endProbe(probe *sessionProbe) {
	d.mu.Lock()
	probe.inFlight = false
	d.mu.Unlock()
}

// forget drops per-session memory once a session reaches Dead.
func (d *Detector) forget(tmuxName string) {
	d.mu.Lock()
	delete(d.probes, tmuxName)
	d.mu.Unlock()
}

// Tick runs one detection pass over every tracked non-terminal session.
// Sessions are probed concurrently; a session still being probed from an
// earlier overlapping tick is skipped.
func (d *Detector) Tick(ctx context.Context) error {
	record, err := d.store.Snapshot()
	if err != nil {
		return err
	}

	type target struct {
		worktree string
		session  *domain.Session
	}
	var targets []target
	for _, wt := range record.Worktrees {
		for _, sess := range wt.Sessions {
			if sess.Status.Terminal() {
				continue
			}
			targets = append(targets, target{worktree: wt.Name, session: sess})
		}
	}

	var wg sync.WaitGroup
	for _, tgt := range targets {
		probe, ok := d.beginProbe(tgt.session.TmuxName)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(tgt target, probe *sessionProbe) {
			defer wg.Done()
			defer d.endProbe(probe)
			d.probeSession(ctx, tgt.worktree, tgt.session, probe)
		}(tgt, probe)
	}
	wg.Wait()
	return nil
}

// TickLiveness marks sessions whose tmux session is gone as dead without
// classifying pane content. One-shot processes start with no snapshot
// memory, so a full classification there would misread idle output as
// fresh activity and flap the status.
func (d *Detector) TickLiveness(ctx context.Context) error {
	record, err := d.store.Snapshot()
	if err != nil {
		return err
	}
	for _, wt := range record.Worktrees {
		for _, sess := range wt.Sessions {
			if sess.Status.Terminal() {
				continue
			}
			if !d.mux.HasSession(ctx, sess.TmuxName) {
				d.transition(ctx, wt.Name, sess, domain.StatusDead)
				d.forget(sess.TmuxName)
			}
		}
	}
	return nil
}

func (d *Detector) probeSession(ctx context.Context, worktree string, sess *domain.Session, probe *sessionProbe) {
	if !d.mux.HasSession(ctx, sess.TmuxName) {
		d.transition(ctx, worktree, sess, domain.StatusDead)
		d.forget(sess.TmuxName)
		return
	}

	snapshot, err := d.mux.CapturePane(ctx, sess.TmuxName, d.captureLines)
	if err != nil {
		// A failed capture carries no information; keep the current status.
		d.logger.Debug("capture-pane failed",
			"session", sess.TmuxName, "error", err)
		return
	}

	next := Classify(d.rules, sess.Status, probe.lastSnapshot, snapshot)
	probe.lastSnapshot = snapshot
	if next != sess.Status {
		d.transition(ctx, worktree, sess, next)
	}
}

// transition commits a status change under the state lock and publishes
// the change. The session may have been removed or already transitioned
// by another process; the stored record, not our snapshot, decides.
func (d *Detector) transition(ctx context.Context, worktree string, sess *domain.Session, next domain.Status) {
	from := sess.Status
	err := d.store.WithLock(ctx, func(record *domain.StateRecord) error {
		_, stored := record.FindSession(sess.ID)
		if stored == nil {
			return nil
		}
		if stored.Status.Terminal() {
			return nil
		}
		from = stored.Status
		stored.Status = next
		return nil
	})
	if err != nil {
		d.logger.Warn("status transition not persisted",
			"session", sess.TmuxName, "to", string(next), "error", err)
		return
	}

	sess.Status = next
	d.logger.Info("session status changed",
		"session", sess.TmuxName, "from", string(from), "to", string(next))
	if d.hub != nil {
		d.hub.Publish(events.NewSessionStatusChangedEvent(worktree, sess.ID, sess.TmuxName, from, next))
	}
}
