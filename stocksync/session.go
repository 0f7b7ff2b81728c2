package stocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
	"github.com/sirupsen/logrus"
)

// ContinuationSignaler requests processing of a session's next batch. The
// production implementation publishes to Pub/Sub; a nil signaler means the
// caller drives continuation explicitly (tests, one-shot tools).
type ContinuationSignaler interface {
	SignalContinue(ctx context.Context, sessionId uint, batch int) error
}

const advanceLockTTL = 10 * time.Minute

// Syncer owns one full sync pipeline: batch selection, availability fetch,
// quantity resolution and channel dispatch, with all progress durably
// recorded on the session row. All previously process-wide caches (product
// index, location ids) are instance state so concurrent-invocation and
// stuck-session scenarios stay testable.
type Syncer struct {
	log        *logrus.Logger
	source     InventorySource
	channels   []ChannelAdapter
	stores     Stores
	locker     Locker
	signal     ContinuationSignaler
	settings   Settings
	resolver   *IdentifierResolver
	fetcher    *AvailabilityFetcher
	dispatcher *ChannelDispatcher
	now        func() time.Time
}

func New(log *logrus.Logger, source InventorySource, channels []ChannelAdapter, stores Stores, locker Locker, signal ContinuationSignaler, cache IndexCache, settings Settings) (*Syncer, error) {
	if err := utils.ValidateStruct(settings); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.New("inventory source is required")
	}

	resolver := NewIdentifierResolver(source, stores.Catalog, cache, settings.Retry, log)
	return &Syncer{
		log:        log,
		source:     source,
		channels:   channels,
		stores:     stores,
		locker:     locker,
		signal:     signal,
		settings:   settings,
		resolver:   resolver,
		fetcher:    NewAvailabilityFetcher(source, resolver, stores.Inventory, settings.Retry, settings.Location, log),
		dispatcher: NewChannelDispatcher(settings.Retry, settings.DispatchDelay, log),
		now:        time.Now,
	}, nil
}

// StartSession creates a new session over the current SKU universe and
// signals processing of batch 1. Fails while another session is active.
func (s *Syncer) StartSession(ctx context.Context, batchSize int, triggeredBy string) (*models.SyncSession, error) {
	if batchSize <= 0 {
		batchSize = s.settings.DefaultBatchSize
	}

	total, maxEntryId, err := s.stores.Catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, errors.New("catalog has no active entries to sync")
	}

	// A fresh cycle starts from a fresh view of the world: stale inventory
	// rows go, and the product index is refetched rather than reused.
	purged, err := s.stores.Inventory.Purge(ctx)
	if err != nil {
		return nil, err
	}
	if purged > 0 {
		s.log.WithFields(logrus.Fields{"module": "stocksync", "purged": purged}).Info("purged unreferenced inventory records")
	}
	s.resolver.Invalidate(ctx)

	session, err := s.stores.Sessions.Create(ctx, total, batchSize, maxEntryId, triggeredBy)
	if err != nil {
		if errors.Is(err, models.ErrActiveSessionExists) {
			return nil, &SessionStateError{Op: "start", Reason: err.Error()}
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"module":        "stocksync",
		"session_id":    session.ID,
		"total_skus":    session.TotalSkus,
		"total_batches": session.TotalBatches,
	}).Info("sync session started")

	s.signalContinue(ctx, session)
	return session, nil
}

// ProcessNext runs exactly one batch of the active session: fetch, resolve,
// dispatch, then durably record the batch result before advancing the
// session. The advance is an atomic conditional update, so a replay or a
// racing invocation gets a SessionStateError instead of double progress.
func (s *Syncer) ProcessNext(ctx context.Context) (*models.SyncSession, error) {
	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, advanceLockKey, advanceLockTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	session, err := s.stores.Sessions.Active(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &SessionStateError{Op: "continue", Reason: "no session is pending or in progress"}
	}
	ctx = utils.SetSessionIdInContext(ctx, session.ID)

	// Cancellation takes effect here, at the batch boundary, so in-flight
	// channel calls from the previous batch are never abandoned mid-write.
	if session.CancelRequested {
		if err := s.advance(ctx, session, models.SessionAdvance{Failed: true, FailureReason: "cancelled by operator"}); err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"module": "stocksync", "session_id": session.ID}).Info("session cancelled at batch boundary")
		return session, nil
	}

	batchNumber := session.CurrentBatch
	startedAt := s.now()

	// The batch is read from the session's own cursor, bounded by the universe
	// snapshot taken at start. Catalog edits made while the session runs can
	// shrink a batch (deactivation) but never shift entries between batches.
	entries, err := s.stores.Catalog.Batch(ctx, session.LastEntryId, session.MaxEntryId, session.BatchSize)
	if err != nil {
		return nil, err
	}

	outcome := s.processBatch(ctx, session, batchNumber, entries)

	result := &models.BatchResult{
		SessionId:      session.ID,
		BatchNumber:    batchNumber,
		Processed:      len(entries),
		Succeeded:      len(entries) - len(outcome.failedEntries),
		Failed:         len(outcome.failedEntries),
		FailedSkusJSON: models.EncodeStringSlice(outcome.failedEntries),
		ErrorsJSON:     models.EncodeStringSlice(outcome.errors),
		DurationMs:     time.Since(startedAt).Milliseconds(),
	}
	// The result must be durable before the advance. A re-run of the same
	// batch (operator reset, crash between this write and the advance)
	// supersedes the earlier row in the store.
	if err := s.stores.Results.AppendBatchResult(ctx, result); err != nil {
		return nil, fmt.Errorf("record batch %d result: %w", batchNumber, err)
	}

	adv := models.SessionAdvance{ProcessedDelta: len(entries)}
	if len(entries) > 0 {
		adv.LastEntryId = entries[len(entries)-1].ID
	}
	if outcome.totalFailure {
		// The cursor stays put so a reset retries this batch from the same
		// position.
		adv = models.SessionAdvance{Failed: true, FailureReason: fmt.Sprintf("batch %d: every sku failed to fetch", batchNumber)}
	}
	if err := s.advance(ctx, session, adv); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"module":      "stocksync",
		"session_id":  session.ID,
		"batch":       batchNumber,
		"processed":   result.Processed,
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
		"duration_ms": result.DurationMs,
		"status":      session.Status,
	}).Info("batch processed")

	if session.HasNextBatch() {
		s.signalContinue(ctx, session)
	}
	return session, nil
}

func (s *Syncer) advance(ctx context.Context, session *models.SyncSession, adv models.SessionAdvance) error {
	if err := s.stores.Sessions.Advance(ctx, session, adv); err != nil {
		if errors.Is(err, models.ErrSessionConflict) {
			return &SessionStateError{Op: "advance", Reason: "session advanced by a concurrent invocation"}
		}
		return err
	}
	return nil
}

type batchOutcome struct {
	failedEntries []string
	errors        []string
	totalFailure  bool
}

func (s *Syncer) processBatch(ctx context.Context, session *models.SyncSession, batchNumber int, entries []models.CatalogEntry) batchOutcome {
	outcome := batchOutcome{}
	failed := map[string]bool{}

	fail := func(entry *models.CatalogEntry, code string, channel string, err error, retryable bool) {
		key := entryKey(entry)
		if !failed[key] {
			failed[key] = true
			outcome.failedEntries = append(outcome.failedEntries, key)
		}
		msg := fmt.Sprintf("%s: %v", key, err)
		outcome.errors = append(outcome.errors, msg)
		_ = s.stores.Results.RecordItemError(ctx, &models.SyncItemError{
			SessionId:    session.ID,
			BatchNumber:  batchNumber,
			WarehouseSku: key,
			Channel:      channel,
			ErrorCode:    code,
			Message:      err.Error(),
			Retryable:    retryable,
		})
	}

	// Collect the sku set this batch needs, keeping per-entry provenance so
	// a component fetch failure can be told apart from zero stock.
	skuSet := map[string]struct{}{}
	entrySkus := make(map[uint][]string, len(entries))
	valid := make([]*models.CatalogEntry, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		skus, err := skusForEntry(entry)
		if err != nil {
			fail(entry, models.ItemErrorBadCatalogEntry, "", err, false)
			continue
		}
		entrySkus[entry.ID] = skus
		for _, sku := range skus {
			skuSet[sku] = struct{}{}
		}
		valid = append(valid, entry)
	}

	skus := make([]string, 0, len(skuSet))
	for sku := range skuSet {
		skus = append(skus, sku)
	}

	fetched, fetchErr := s.fetcher.Fetch(ctx, skus)
	if errors.Is(fetchErr, ErrTotalBatchFailure) {
		for _, entry := range valid {
			fail(entry, models.ItemErrorFetchFailed, "", firstSkuError(entrySkus[entry.ID], fetched.Failed), true)
		}
		outcome.totalFailure = true
		return outcome
	}

	// Resolve quantities. Entries touched by a fetch failure are item errors,
	// not zero pushes.
	updatesByChannel := map[string][]QuantityUpdate{}
	entryByKey := map[string]*models.CatalogEntry{}
	for _, entry := range valid {
		if skuErr := firstSkuError(entrySkus[entry.ID], fetched.Failed); skuErr != nil {
			fail(entry, models.ItemErrorFetchFailed, "", skuErr, true)
			continue
		}

		// Keep the entry's own handle warm; misses self-heal off the index
		// already loaded for the fetch.
		if !entry.IsBundle() {
			if _, _, err := s.resolver.ResolveEntry(ctx, entry); err != nil {
				fail(entry, models.ItemErrorHandleNotFound, "", err, false)
				continue
			}
		}

		quantity := ResolveQuantity(entry, fetched.Available)
		entryByKey[entryKey(entry)] = entry

		for _, channel := range s.channels {
			update, applicable := s.channelUpdate(ctx, entry, channel, quantity)
			if !applicable {
				continue
			}
			if update.Handle == "" {
				fail(entry, models.ItemErrorMissingHandle, channel.Name(), fmt.Errorf("no %s handle for %s", channel.Name(), entryKey(entry)), false)
				continue
			}
			updatesByChannel[channel.Name()] = append(updatesByChannel[channel.Name()], update)
		}
	}

	// Channels are independent side effects: dispatch them concurrently,
	// while all calls within one channel stay serialized in the dispatcher.
	results := make([]DispatchResult, len(s.channels))
	var wg sync.WaitGroup
	for i, channel := range s.channels {
		updates := updatesByChannel[channel.Name()]
		if len(updates) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, channel ChannelAdapter, updates []QuantityUpdate) {
			defer wg.Done()
			results[i] = s.dispatcher.Dispatch(ctx, channel, updates)
		}(i, channel, updates)
	}
	wg.Wait()

	for _, result := range results {
		for _, item := range result.FailedItems {
			entry := entryByKey[item.Sku]
			if entry == nil {
				continue
			}
			fail(entry, models.ItemErrorDispatchFailed, result.Channel, fmt.Errorf("dispatch to %s failed", result.Channel), true)
		}
	}
	return outcome
}

// channelUpdate builds one channel's update for an entry, self-healing a
// missing channel handle through the sell-side resolve path. An entry with
// neither a sku nor a handle for the channel is simply not sold there.
func (s *Syncer) channelUpdate(ctx context.Context, entry *models.CatalogEntry, channel ChannelAdapter, quantity int) (QuantityUpdate, bool) {
	name := channel.Name()
	handles := entry.ChannelHandles()
	channelSkus := entry.ChannelSkus()

	handle := handles[name]
	channelSku := channelSkus[name]
	if handle == "" && channelSku == "" {
		return QuantityUpdate{}, false
	}

	if handle == "" {
		resolved, err := channel.ResolveHandle(ctx, channelSku)
		if err != nil || resolved == "" {
			return QuantityUpdate{Sku: entryKey(entry), Quantity: quantity}, true
		}
		handle = resolved
		if persistErr := s.stores.Catalog.SetChannelHandle(ctx, entry, name, handle); persistErr != nil {
			s.log.WithFields(logrus.Fields{
				"module":  "stocksync",
				"channel": name,
				"sku":     entryKey(entry),
			}).Warn("self-healed channel handle could not be persisted; using it for this cycle only: " + persistErr.Error())
		}
	}

	return QuantityUpdate{Handle: handle, Sku: entryKey(entry), Quantity: quantity}, true
}

func (s *Syncer) signalContinue(ctx context.Context, session *models.SyncSession) {
	if s.signal == nil {
		return
	}
	if err := s.signal.SignalContinue(ctx, session.ID, session.CurrentBatch); err != nil {
		// The monitor will notice the silence and re-signal.
		s.log.WithFields(logrus.Fields{
			"module":     "stocksync",
			"session_id": session.ID,
			"batch":      session.CurrentBatch,
		}).Warn("failed to signal continuation: " + err.Error())
	}
}

// Status returns the latest session snapshot, always from durable state.
func (s *Syncer) Status(ctx context.Context) (*StatusResponse, error) {
	session, err := s.stores.Sessions.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{Session: toSessionResponse(session)}, nil
}

// SessionDetail returns one session with its batch results and item errors.
func (s *Syncer) SessionDetail(ctx context.Context, id uint) (*SessionDetailResponse, error) {
	session, err := s.stores.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := s.stores.Results.ListBatchResults(ctx, id)
	if err != nil {
		return nil, err
	}
	itemErrors, err := s.stores.Results.ListItemErrors(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionDetailResponse{
		SessionResponse: *toSessionResponse(session),
		BatchResults:    toBatchResultResponses(results),
		ItemErrors:      toItemErrorResponses(itemErrors),
	}, nil
}

// Inventory returns the last observed stock levels for the given skus at the
// configured location, for the operator diagnosis surface.
func (s *Syncer) Inventory(ctx context.Context, skus []string) ([]models.InventoryRecord, error) {
	return s.stores.Inventory.List(ctx, skus, s.settings.Location)
}

// Cancel flags the active session; it stops at the next batch boundary.
func (s *Syncer) Cancel(ctx context.Context, id uint) error {
	if err := s.stores.Sessions.RequestCancel(ctx, id); err != nil {
		if errors.Is(err, models.ErrSessionConflict) {
			return &SessionStateError{Op: "cancel", Reason: "session is not in progress"}
		}
		return err
	}
	return nil
}

func entryKey(entry *models.CatalogEntry) string {
	if entry.WarehouseSku != "" {
		return entry.WarehouseSku
	}
	return fmt.Sprintf("bundle-%d", entry.ID)
}

func skusForEntry(entry *models.CatalogEntry) ([]string, error) {
	hasSku := entry.WarehouseSku != ""
	hasComponents := len(entry.Components) > 0
	if hasSku == hasComponents {
		return nil, models.ErrCatalogEntryShape
	}
	if hasSku {
		return []string{entry.WarehouseSku}, nil
	}
	skus := make([]string, 0, len(entry.Components))
	for _, c := range entry.Components {
		skus = append(skus, c.WarehouseSku)
	}
	return skus, nil
}

func firstSkuError(skus []string, failed map[string]error) error {
	for _, sku := range skus {
		if err, ok := failed[sku]; ok {
			return fmt.Errorf("fetch failed for %s: %w", sku, err)
		}
	}
	return nil
}
