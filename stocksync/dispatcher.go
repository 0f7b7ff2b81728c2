package stocksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DispatchResult aggregates one channel's outcomes for one batch.
type DispatchResult struct {
	Channel     string
	Successful  int
	Failed      int
	Errors      []string
	FailedItems []QuantityUpdate
}

// ChannelDispatcher pushes resolved quantities to one channel at a time,
// splitting updates into sub-batches sized to the channel's bulk limit and
// pacing them with a fixed delay to respect the channel's rate limit.
//
// Failure policy: a sub-batch failure (transport or channel-side) is
// independent — the remaining sub-batches are still submitted. When the
// channel reports its bulk path unusable (ErrBulkUnsupported, or BulkLimit
// 0), the dispatcher falls back to one rate-limited call per item.
type ChannelDispatcher struct {
	retry RetryPolicy
	delay time.Duration
	log   *logrus.Logger
	sleep func(ctx context.Context, d time.Duration)
}

func NewChannelDispatcher(retry RetryPolicy, delay time.Duration, log *logrus.Logger) *ChannelDispatcher {
	return &ChannelDispatcher{
		retry: retry,
		delay: delay,
		log:   log,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Dispatch pushes updates to one channel. Items with an empty handle are
// reported failed without a network call.
func (d *ChannelDispatcher) Dispatch(ctx context.Context, channel ChannelAdapter, updates []QuantityUpdate) DispatchResult {
	result := DispatchResult{Channel: channel.Name()}

	sendable := make([]QuantityUpdate, 0, len(updates))
	for _, update := range updates {
		if update.Handle == "" {
			result.Failed++
			result.FailedItems = append(result.FailedItems, update)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: missing channel handle", update.Sku))
			continue
		}
		sendable = append(sendable, update)
	}
	if len(sendable) == 0 {
		return result
	}

	limit := channel.BulkLimit()
	if limit <= 0 {
		d.dispatchPerItem(ctx, channel, sendable, &result)
		return result
	}

	for start := 0; start < len(sendable); start += limit {
		if start > 0 {
			d.sleep(ctx, d.delay)
		}
		end := start + limit
		if end > len(sendable) {
			end = len(sendable)
		}
		subBatch := sendable[start:end]

		var outcomes []ItemOutcome
		err := d.retry.Do(ctx, func(ctx context.Context) error {
			var derr error
			outcomes, derr = channel.BulkSetQuantity(ctx, subBatch)
			return derr
		})
		if errors.Is(err, ErrBulkUnsupported) {
			// No usable bulk path: the rest of the batch goes item by item.
			d.dispatchPerItem(ctx, channel, sendable[start:], &result)
			return result
		}
		if err != nil {
			result.Failed += len(subBatch)
			result.FailedItems = append(result.FailedItems, subBatch...)
			result.Errors = append(result.Errors, fmt.Sprintf("bulk sub-batch failed on %s: %v", channel.Name(), err))
			d.log.WithFields(logrus.Fields{
				"module":  "stocksync",
				"channel": channel.Name(),
				"items":   len(subBatch),
			}).Warn("bulk sub-batch failed: " + err.Error())
			continue
		}

		d.applyOutcomes(subBatch, outcomes, &result)
	}
	return result
}

func (d *ChannelDispatcher) dispatchPerItem(ctx context.Context, channel ChannelAdapter, updates []QuantityUpdate, result *DispatchResult) {
	for i, update := range updates {
		if i > 0 {
			d.sleep(ctx, d.delay)
		}
		err := d.retry.Do(ctx, func(ctx context.Context) error {
			return channel.SetQuantity(ctx, update)
		})
		if err != nil {
			result.Failed++
			result.FailedItems = append(result.FailedItems, update)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", update.Sku, err))
			continue
		}
		result.Successful++
	}
}

func (d *ChannelDispatcher) applyOutcomes(subBatch []QuantityUpdate, outcomes []ItemOutcome, result *DispatchResult) {
	byHandle := make(map[string]ItemOutcome, len(outcomes))
	for _, outcome := range outcomes {
		byHandle[outcome.Handle] = outcome
	}
	for _, update := range subBatch {
		outcome, ok := byHandle[update.Handle]
		if ok && outcome.OK {
			result.Successful++
			continue
		}
		result.Failed++
		result.FailedItems = append(result.FailedItems, update)
		reason := "channel reported no outcome"
		if ok && outcome.Error != "" {
			reason = outcome.Error
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", update.Sku, reason))
	}
}
