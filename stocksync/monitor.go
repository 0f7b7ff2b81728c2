package stocksync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"github.com/sirupsen/logrus"
)

// Session health states reported by the monitor.
const (
	MonitorStateIdle    = "idle"
	MonitorStateHealthy = "healthy"
	MonitorStateStuck   = "stuck"
	MonitorStateFailed  = "failed"
)

// SessionMonitor watches the session table for progress that quietly stopped,
// typically a continuation signal that was published but never delivered. A
// stuck session is nudged by re-signaling its current batch; the conditional
// advance makes a spurious nudge harmless.
type SessionMonitor struct {
	stores    Stores
	signal    ContinuationSignaler
	threshold time.Duration
	log       *logrus.Logger
	now       func() time.Time
}

func NewSessionMonitor(stores Stores, signal ContinuationSignaler, threshold time.Duration, log *logrus.Logger) *SessionMonitor {
	return &SessionMonitor{
		stores:    stores,
		signal:    signal,
		threshold: threshold,
		log:       log,
		now:       time.Now,
	}
}

// Check classifies the latest session and recovers it when stuck.
func (m *SessionMonitor) Check(ctx context.Context) (*MonitorResponse, error) {
	session, err := m.stores.Sessions.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status == models.SyncSessionStatusCompleted {
		return &MonitorResponse{State: MonitorStateIdle, Session: toSessionResponse(session)}, nil
	}
	if session.Status == models.SyncSessionStatusFailed {
		return &MonitorResponse{State: MonitorStateFailed, Session: toSessionResponse(session)}, nil
	}

	if m.now().Sub(session.LastUpdated) < m.threshold {
		return &MonitorResponse{State: MonitorStateHealthy, Session: toSessionResponse(session)}, nil
	}

	m.log.WithFields(logrus.Fields{
		"module":       "stocksync",
		"session_id":   session.ID,
		"batch":        session.CurrentBatch,
		"last_updated": session.LastUpdated,
	}).Warn("session stalled, re-signaling current batch")
	if err := m.recover(ctx, session); err != nil {
		return nil, err
	}
	return &MonitorResponse{State: MonitorStateStuck, Session: toSessionResponse(session)}, nil
}

// recover touches the session so back-to-back checks do not re-signal the
// same batch in a storm, then re-publishes the continuation. Re-delivery of
// an already-processed batch is rejected by the conditional advance.
func (m *SessionMonitor) recover(ctx context.Context, session *models.SyncSession) error {
	if err := m.stores.Sessions.Touch(ctx, session.ID); err != nil {
		if errors.Is(err, models.ErrSessionConflict) {
			// The session moved on between read and touch. Nothing to do.
			return nil
		}
		return err
	}
	if m.signal == nil {
		return nil
	}
	return m.signal.SignalContinue(ctx, session.ID, session.CurrentBatch)
}

// Reset moves a failed session back to in_progress at its current batch and
// re-signals it. Only failed sessions can be reset.
func (m *SessionMonitor) Reset(ctx context.Context, id uint) (*models.SyncSession, error) {
	session, err := m.stores.Sessions.ResetFailed(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSessionConflict) {
			return nil, &SessionStateError{Op: "reset", Reason: "only a failed session can be reset"}
		}
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"module":     "stocksync",
		"session_id": session.ID,
		"batch":      session.CurrentBatch,
	}).Info("failed session reset, resuming at current batch")
	if m.signal != nil {
		if err := m.signal.SignalContinue(ctx, session.ID, session.CurrentBatch); err != nil {
			m.log.WithFields(logrus.Fields{"module": "stocksync", "session_id": session.ID}).
				Warn("failed to signal resumed session: " + err.Error())
		}
	}
	return session, nil
}

// Run checks on a fixed interval until the context is cancelled. The sync
// service runs this in-process; cmd/session-monitor runs a single Check.
func (m *SessionMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				m.log.WithFields(logrus.Fields{"module": "stocksync"}).
					Error("session monitor check failed: " + err.Error())
			}
		}
	}
}
