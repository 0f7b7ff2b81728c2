package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"gorm.io/gorm/clause"
)

// BatchResult is the audit record for one (session, batch) processing step,
// one row per pair. It is written durably before the session row advances,
// which is what makes resumption after a crash safe.
type BatchResult struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	SessionId      uint      `gorm:"uniqueIndex:idx_batch_result_session,priority:1;not null" json:"session_id"`
	BatchNumber    int       `gorm:"uniqueIndex:idx_batch_result_session,priority:2;not null" json:"batch_number"`
	Processed      int       `gorm:"not null" json:"processed"`
	Succeeded      int       `gorm:"not null" json:"succeeded"`
	Failed         int       `gorm:"not null" json:"failed"`
	FailedSkusJSON []byte    `gorm:"type:json" json:"failed_skus"`
	ErrorsJSON     []byte    `gorm:"type:json" json:"errors"`
	DurationMs     int64     `gorm:"not null" json:"duration_ms"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (r *BatchResult) FailedSkus() []string {
	return decodeStringSlice(r.FailedSkusJSON)
}

func (r *BatchResult) Errors() []string {
	return decodeStringSlice(r.ErrorsJSON)
}

func decodeStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func EncodeStringSlice(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return b
}

// AppendBatchResult writes one result row per (session, batch). A batch can
// legitimately run again after an operator reset, or after a crash between
// the result write and the session advance; the retry supersedes the earlier
// row rather than failing on the unique index. Double counting of progress is
// prevented by the conditional session advance, not here.
func AppendBatchResult(ctx context.Context, result *BatchResult) error {
	return config.GetDB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "batch_number"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"processed", "succeeded", "failed", "failed_skus_json", "errors_json", "duration_ms", "created_at",
			}),
		}).Create(result).Error
}

func ListBatchResults(ctx context.Context, sessionId uint) ([]BatchResult, error) {
	var results []BatchResult
	err := config.GetDB().WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("batch_number ASC").
		Find(&results).Error
	return results, err
}
