package stocksync

import (
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

// Settings is the orchestrator's runtime configuration. All of it comes from
// env with defaults; validation runs once at construction.
type Settings struct {
	// Location is the warehouse location whose stock feeds the channels.
	Location string `validate:"required"`
	// DefaultBatchSize bounds one processing step so an invocation fits an
	// externally imposed execution-time limit.
	DefaultBatchSize int `validate:"gt=0"`
	// DispatchDelay paces sub-batches (and per-item fallback calls) within
	// one channel.
	DispatchDelay time.Duration `validate:"gte=0"`
	// StuckThreshold is how long an in_progress session may go without a
	// last_updated touch before the monitor calls it stuck.
	StuckThreshold time.Duration `validate:"gt=0"`
	Retry          RetryPolicy
}

func SettingsFromEnv() Settings {
	return Settings{
		Location:         utils.EnvString("SYNC_LOCATION", "main"),
		DefaultBatchSize: utils.EnvInt("SYNC_BATCH_SIZE", 60),
		DispatchDelay:    utils.EnvDuration("SYNC_DISPATCH_DELAY", time.Second),
		StuckThreshold:   utils.EnvDuration("SYNC_STUCK_THRESHOLD", 10*time.Minute),
		Retry:            RetryPolicyFromEnv(),
	}
}

type StartSessionRequest struct {
	BatchSize int `json:"batchSize"`
}

type SessionResponse struct {
	ID              uint    `json:"id"`
	PublicId        string  `json:"publicId"`
	Status          string  `json:"status"`
	TotalSkus       int     `json:"totalSkus"`
	BatchSize       int     `json:"batchSize"`
	CurrentBatch    int     `json:"currentBatch"`
	TotalBatches    int     `json:"totalBatches"`
	ProcessedSkus   int     `json:"processedSkus"`
	RemainingSkus   int     `json:"remainingSkus"`
	TriggeredBy     string  `json:"triggeredBy"`
	CancelRequested bool    `json:"cancelRequested"`
	Error           string  `json:"error,omitempty"`
	StartedAt       string  `json:"startedAt"`
	LastUpdated     string  `json:"lastUpdated"`
	CompletedAt     *string `json:"completedAt"`
}

type BatchResultResponse struct {
	BatchNumber int      `json:"batchNumber"`
	Processed   int      `json:"processed"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	FailedSkus  []string `json:"failedSkus"`
	Errors      []string `json:"errors"`
	DurationMs  int64    `json:"durationMs"`
}

type ItemErrorResponse struct {
	BatchNumber  int    `json:"batchNumber"`
	WarehouseSku string `json:"warehouseSku"`
	Channel      string `json:"channel,omitempty"`
	ErrorCode    string `json:"errorCode"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
}

type SessionDetailResponse struct {
	SessionResponse
	BatchResults []BatchResultResponse `json:"batchResults"`
	ItemErrors   []ItemErrorResponse   `json:"itemErrors"`
}

type StatusResponse struct {
	Session *SessionResponse `json:"session"`
}

type MonitorResponse struct {
	State   string           `json:"state"`
	Session *SessionResponse `json:"session,omitempty"`
}

func toSessionResponse(session *models.SyncSession) *SessionResponse {
	if session == nil {
		return nil
	}
	resp := &SessionResponse{
		ID:              session.ID,
		PublicId:        session.PublicId,
		Status:          session.Status,
		TotalSkus:       session.TotalSkus,
		BatchSize:       session.BatchSize,
		CurrentBatch:    session.CurrentBatch,
		TotalBatches:    session.TotalBatches,
		ProcessedSkus:   session.ProcessedSkus,
		RemainingSkus:   session.RemainingSkus,
		TriggeredBy:     session.TriggeredBy,
		CancelRequested: session.CancelRequested,
		Error:           session.Error,
		StartedAt:       session.StartedAt.UTC().Format(time.RFC3339),
		LastUpdated:     session.LastUpdated.UTC().Format(time.RFC3339),
	}
	if session.CompletedAt != nil {
		formatted := session.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &formatted
	}
	return resp
}

func toBatchResultResponses(results []models.BatchResult) []BatchResultResponse {
	out := make([]BatchResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, BatchResultResponse{
			BatchNumber: r.BatchNumber,
			Processed:   r.Processed,
			Succeeded:   r.Succeeded,
			Failed:      r.Failed,
			FailedSkus:  r.FailedSkus(),
			Errors:      r.Errors(),
			DurationMs:  r.DurationMs,
		})
	}
	return out
}

func toItemErrorResponses(errs []models.SyncItemError) []ItemErrorResponse {
	out := make([]ItemErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, ItemErrorResponse{
			BatchNumber:  e.BatchNumber,
			WarehouseSku: e.WarehouseSku,
			Channel:      e.Channel,
			ErrorCode:    e.ErrorCode,
			Message:      e.Message,
			Retryable:    e.Retryable,
		})
	}
	return out
}
