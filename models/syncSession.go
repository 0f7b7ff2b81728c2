package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrSessionConflict means a conditional session update matched zero rows:
	// another invocation advanced or terminated the session first.
	ErrSessionConflict = errors.New("sync session was modified concurrently")

	// ErrActiveSessionExists guards the single-active-session rule.
	ErrActiveSessionExists = errors.New("a sync session is already pending or in progress")
)

// SyncSession tracks one resumable pass over the whole SKU universe. The row
// is the source of truth for progress; it is only ever advanced through
// conditional updates so a racing trigger and monitor cannot double-process
// a batch. MaxEntryId pins the universe to the catalog as it stood at session
// start; LastEntryId is the batch cursor, so catalog edits made while the
// session runs can never shift an unprocessed entry out of a later batch.
type SyncSession struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	PublicId        string     `gorm:"uniqueIndex;size:36;not null" json:"public_id"`
	Status          string     `gorm:"index;size:20;not null" json:"status"`
	TotalSkus       int        `gorm:"not null" json:"total_skus"`
	BatchSize       int        `gorm:"not null" json:"batch_size"`
	CurrentBatch    int        `gorm:"not null" json:"current_batch"`
	TotalBatches    int        `gorm:"not null" json:"total_batches"`
	MaxEntryId      uint       `gorm:"not null;default:0" json:"max_entry_id"`
	LastEntryId     uint       `gorm:"not null;default:0" json:"last_entry_id"`
	ProcessedSkus   int        `gorm:"not null" json:"processed_skus"`
	RemainingSkus   int        `gorm:"not null" json:"remaining_skus"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	CancelRequested bool       `gorm:"not null;default:false" json:"cancel_requested"`
	Error           string     `gorm:"type:text" json:"error"`
	Version         int        `gorm:"not null;default:1" json:"version"`
	StartedAt       time.Time  `gorm:"not null" json:"started_at"`
	LastUpdated     time.Time  `gorm:"not null" json:"last_updated"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *SyncSession) IsTerminal() bool {
	return s.Status == SyncSessionStatusCompleted || s.Status == SyncSessionStatusFailed
}

func (s *SyncSession) HasNextBatch() bool {
	return s.Status == SyncSessionStatusInProgress && s.CurrentBatch <= s.TotalBatches
}

// CreateSyncSession starts a new pass. total_batches = ceil(total/batchSize).
// maxEntryId is the highest active catalog entry id at the moment of the
// snapshot; entries created afterwards wait for the next session. Creation
// fails while another session is still pending or in progress.
func CreateSyncSession(ctx context.Context, totalSkus int, batchSize int, maxEntryId uint, triggeredBy string) (*SyncSession, error) {
	if totalSkus <= 0 {
		return nil, errors.New("sku universe is empty")
	}
	if batchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}

	now := time.Now().UTC()
	session := SyncSession{
		PublicId:      uuid.NewString(),
		Status:        SyncSessionStatusInProgress,
		TotalSkus:     totalSkus,
		BatchSize:     batchSize,
		CurrentBatch:  1,
		TotalBatches:  (totalSkus + batchSize - 1) / batchSize,
		MaxEntryId:    maxEntryId,
		ProcessedSkus: 0,
		RemainingSkus: totalSkus,
		TriggeredBy:   triggeredBy,
		Version:       1,
		StartedAt:     now,
		LastUpdated:   now,
	}

	db := config.GetDB().WithContext(ctx)
	err := db.Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&SyncSession{}).
			Where("status IN ?", []string{SyncSessionStatusPending, SyncSessionStatusInProgress}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrActiveSessionExists
		}
		return tx.Create(&session).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func GetSyncSession(ctx context.Context, id uint) (*SyncSession, error) {
	var session SyncSession
	err := config.GetDB().WithContext(ctx).Where("id = ?", id).Take(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetActiveSyncSession returns the pending/in_progress session, or nil.
func GetActiveSyncSession(ctx context.Context) (*SyncSession, error) {
	var session SyncSession
	err := config.GetDB().WithContext(ctx).
		Where("status IN ?", []string{SyncSessionStatusPending, SyncSessionStatusInProgress}).
		Order("id DESC").
		Take(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func GetLatestSyncSession(ctx context.Context) (*SyncSession, error) {
	var session SyncSession
	err := config.GetDB().WithContext(ctx).Order("id DESC").Take(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func ListSyncSessions(ctx context.Context, limit int) ([]SyncSession, error) {
	if limit <= 0 {
		limit = 20
	}
	var sessions []SyncSession
	err := config.GetDB().WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// SessionAdvance is the outcome of processing exactly one batch. LastEntryId
// moves the batch cursor; a zero value leaves it in place so a failed batch
// is re-read from the same position after a reset.
type SessionAdvance struct {
	ProcessedDelta int
	LastEntryId    uint
	Failed         bool
	FailureReason  string
}

// AdvanceSyncSession applies one batch outcome with an atomic conditional
// update: it only succeeds if the session is still in_progress at the same
// batch and version the caller read. Zero rows affected means another
// invocation won the race; the caller gets ErrSessionConflict and must not
// record progress. The in-memory session is refreshed on success.
func AdvanceSyncSession(ctx context.Context, session *SyncSession, adv SessionAdvance) error {
	now := time.Now().UTC()
	processed := session.ProcessedSkus + adv.ProcessedDelta
	remaining := session.TotalSkus - processed
	if remaining < 0 {
		remaining = 0
	}

	updates := map[string]interface{}{
		"processed_skus": processed,
		"remaining_skus": remaining,
		"last_updated":   now,
		"version":        session.Version + 1,
	}
	if adv.LastEntryId > 0 {
		updates["last_entry_id"] = adv.LastEntryId
	}

	newStatus := SyncSessionStatusInProgress
	newBatch := session.CurrentBatch
	switch {
	case adv.Failed:
		newStatus = SyncSessionStatusFailed
		updates["status"] = newStatus
		updates["error"] = adv.FailureReason
	case session.CurrentBatch >= session.TotalBatches:
		newStatus = SyncSessionStatusCompleted
		updates["status"] = newStatus
		updates["completed_at"] = now
	default:
		newBatch = session.CurrentBatch + 1
		updates["current_batch"] = newBatch
	}

	res := config.GetDB().WithContext(ctx).
		Model(&SyncSession{}).
		Where("id = ? AND status = ? AND current_batch = ? AND version = ?",
			session.ID, SyncSessionStatusInProgress, session.CurrentBatch, session.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionConflict
	}

	session.ProcessedSkus = processed
	session.RemainingSkus = remaining
	session.LastUpdated = now
	if adv.LastEntryId > 0 {
		session.LastEntryId = adv.LastEntryId
	}
	session.Version++
	session.Status = newStatus
	session.CurrentBatch = newBatch
	if adv.Failed {
		session.Error = adv.FailureReason
	}
	if newStatus == SyncSessionStatusCompleted {
		session.CompletedAt = &now
	}
	return nil
}

// TouchSyncSession refreshes last_updated on a live session so the monitor
// stops considering it stuck. It never changes progress fields.
func TouchSyncSession(ctx context.Context, id uint) error {
	res := config.GetDB().WithContext(ctx).
		Model(&SyncSession{}).
		Where("id = ? AND status = ?", id, SyncSessionStatusInProgress).
		Update("last_updated", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionConflict
	}
	return nil
}

// RequestSessionCancel flags a live session; the runner honors the flag at
// the next batch boundary so in-flight channel calls finish with a record.
func RequestSessionCancel(ctx context.Context, id uint) error {
	res := config.GetDB().WithContext(ctx).
		Model(&SyncSession{}).
		Where("id = ? AND status = ?", id, SyncSessionStatusInProgress).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"last_updated":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionConflict
	}
	return nil
}

// ResetFailedSession is the operator recovery path: failed -> in_progress at
// the same current_batch, so the batch that caused the failure is retried.
// Only valid on failed sessions.
func ResetFailedSession(ctx context.Context, id uint) (*SyncSession, error) {
	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&SyncSession{}).
		Where("id = ? AND status = ?", id, SyncSessionStatusFailed).
		Updates(map[string]interface{}{
			"status":           SyncSessionStatusInProgress,
			"error":            "",
			"cancel_requested": false,
			"last_updated":     now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrSessionConflict
	}
	return GetSyncSession(ctx, id)
}
