package stocksync

// DB-free fakes backing the orchestrator tests. The memory stores mirror the
// conditional-update semantics of the gorm-backed models so replay and race
// scenarios behave like production.
//
// Full DB+Pub/Sub integration tests should be added in an environment that
// can run MySQL + a Pub/Sub emulator.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

// fakeSource is an in-memory warehouse system with call counters and
// injectable failures.
type fakeSource struct {
	mu         sync.Mutex
	products   []SourceProduct
	stock      map[string][]BinStock
	listErr    error
	stockErr   map[string]error
	listCalls  int
	stockCalls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stock:      map[string][]BinStock{},
		stockErr:   map[string]error{},
		stockCalls: map[string]int{},
	}
}

func (s *fakeSource) ListProducts(ctx context.Context) ([]SourceProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]SourceProduct(nil), s.products...), nil
}

func (s *fakeSource) GetStockByHandle(ctx context.Context, handle string, location string) ([]BinStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stockCalls[handle]++
	if err, ok := s.stockErr[handle]; ok {
		return nil, err
	}
	bins, ok := s.stock[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]BinStock(nil), bins...), nil
}

// addProduct registers a product with simple stock in one includable bin.
func (s *fakeSource) addProduct(sku, handle string, quantity int64) {
	s.products = append(s.products, SourceProduct{Sku: sku, Handle: handle})
	s.stock[handle] = []BinStock{{Bin: "A1", Quantity: decimal.NewFromInt(quantity), Includable: true}}
}

// fakeChannel records every call and lets tests fail specific bulk
// sub-batches or individual items.
type fakeChannel struct {
	mu        sync.Mutex
	name      string
	bulkLimit int

	bulkCalls    [][]QuantityUpdate
	itemCalls    []QuantityUpdate
	resolveCalls []string

	bulkErrByCall map[int]error
	itemErr       map[string]error
	rejectHandles map[string]string
	resolved      map[string]string
}

func newFakeChannel(name string, bulkLimit int) *fakeChannel {
	return &fakeChannel{
		name:          name,
		bulkLimit:     bulkLimit,
		bulkErrByCall: map[int]error{},
		itemErr:       map[string]error{},
		rejectHandles: map[string]string{},
		resolved:      map[string]string{},
	}
}

func (c *fakeChannel) Name() string   { return c.name }
func (c *fakeChannel) BulkLimit() int { return c.bulkLimit }

func (c *fakeChannel) BulkSetQuantity(ctx context.Context, updates []QuantityUpdate) ([]ItemOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.bulkCalls)
	c.bulkCalls = append(c.bulkCalls, append([]QuantityUpdate(nil), updates...))
	if err, ok := c.bulkErrByCall[call]; ok {
		return nil, err
	}

	outcomes := make([]ItemOutcome, 0, len(updates))
	for _, u := range updates {
		if reason, ok := c.rejectHandles[u.Handle]; ok {
			outcomes = append(outcomes, ItemOutcome{Handle: u.Handle, OK: false, Error: reason})
			continue
		}
		outcomes = append(outcomes, ItemOutcome{Handle: u.Handle, OK: true})
	}
	return outcomes, nil
}

func (c *fakeChannel) SetQuantity(ctx context.Context, update QuantityUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemCalls = append(c.itemCalls, update)
	return c.itemErr[update.Handle]
}

func (c *fakeChannel) ResolveHandle(ctx context.Context, channelSku string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveCalls = append(c.resolveCalls, channelSku)
	handle, ok := c.resolved[channelSku]
	if !ok {
		return "", ErrNotFound
	}
	return handle, nil
}

// memSessionStore reproduces the conditional-update behavior of the session
// model: an advance only applies at the exact (status, batch, version) the
// caller read.
type memSessionStore struct {
	mu       sync.Mutex
	nextId   uint
	sessions []*models.SyncSession
	now      func() time.Time
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{nextId: 1, now: time.Now}
}

func (s *memSessionStore) Create(ctx context.Context, totalSkus int, batchSize int, maxEntryId uint, triggeredBy string) (*models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if !existing.IsTerminal() {
			return nil, models.ErrActiveSessionExists
		}
	}
	now := s.now().UTC()
	session := &models.SyncSession{
		ID:            s.nextId,
		PublicId:      fmt.Sprintf("test-%d", s.nextId),
		Status:        models.SyncSessionStatusInProgress,
		TotalSkus:     totalSkus,
		BatchSize:     batchSize,
		CurrentBatch:  1,
		TotalBatches:  (totalSkus + batchSize - 1) / batchSize,
		MaxEntryId:    maxEntryId,
		RemainingSkus: totalSkus,
		TriggeredBy:   triggeredBy,
		Version:       1,
		StartedAt:     now,
		LastUpdated:   now,
	}
	s.nextId++
	s.sessions = append(s.sessions, session)
	copied := *session
	return &copied, nil
}

func (s *memSessionStore) find(id uint) *models.SyncSession {
	for _, session := range s.sessions {
		if session.ID == id {
			return session
		}
	}
	return nil
}

func (s *memSessionStore) Get(ctx context.Context, id uint) (*models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.find(id)
	if session == nil {
		return nil, fmt.Errorf("session %d not found", id)
	}
	copied := *session
	return &copied, nil
}

func (s *memSessionStore) Active(ctx context.Context) (*models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if !s.sessions[i].IsTerminal() {
			copied := *s.sessions[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memSessionStore) Latest(ctx context.Context) (*models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil, nil
	}
	copied := *s.sessions[len(s.sessions)-1]
	return &copied, nil
}

func (s *memSessionStore) List(ctx context.Context, limit int) ([]models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncSession, 0, len(s.sessions))
	for i := len(s.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.sessions[i])
	}
	return out, nil
}

func (s *memSessionStore) Advance(ctx context.Context, session *models.SyncSession, adv models.SessionAdvance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.find(session.ID)
	if stored == nil ||
		stored.Status != models.SyncSessionStatusInProgress ||
		stored.CurrentBatch != session.CurrentBatch ||
		stored.Version != session.Version {
		return models.ErrSessionConflict
	}

	now := s.now().UTC()
	stored.ProcessedSkus += adv.ProcessedDelta
	stored.RemainingSkus = stored.TotalSkus - stored.ProcessedSkus
	if stored.RemainingSkus < 0 {
		stored.RemainingSkus = 0
	}
	if adv.LastEntryId > 0 {
		stored.LastEntryId = adv.LastEntryId
	}
	stored.LastUpdated = now
	stored.Version++

	switch {
	case adv.Failed:
		stored.Status = models.SyncSessionStatusFailed
		stored.Error = adv.FailureReason
	case stored.CurrentBatch >= stored.TotalBatches:
		stored.Status = models.SyncSessionStatusCompleted
		stored.CompletedAt = &now
	default:
		stored.CurrentBatch++
	}

	*session = *stored
	return nil
}

func (s *memSessionStore) Touch(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.find(id)
	if stored == nil || stored.Status != models.SyncSessionStatusInProgress {
		return models.ErrSessionConflict
	}
	stored.LastUpdated = s.now().UTC()
	return nil
}

func (s *memSessionStore) RequestCancel(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.find(id)
	if stored == nil || stored.Status != models.SyncSessionStatusInProgress {
		return models.ErrSessionConflict
	}
	stored.CancelRequested = true
	stored.LastUpdated = s.now().UTC()
	return nil
}

func (s *memSessionStore) ResetFailed(ctx context.Context, id uint) (*models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.find(id)
	if stored == nil || stored.Status != models.SyncSessionStatusFailed {
		return nil, models.ErrSessionConflict
	}
	stored.Status = models.SyncSessionStatusInProgress
	stored.Error = ""
	stored.CancelRequested = false
	stored.LastUpdated = s.now().UTC()
	copied := *stored
	return &copied, nil
}

type memCatalogStore struct {
	mu      sync.Mutex
	entries []models.CatalogEntry

	warehouseHandleWrites int
	channelHandleWrites   int
	setHandleErr          error
}

func (s *memCatalogStore) Snapshot(ctx context.Context) (int, uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	var maxId uint
	for i := range s.entries {
		if !entryActive(&s.entries[i]) {
			continue
		}
		total++
		if s.entries[i].ID > maxId {
			maxId = s.entries[i].ID
		}
	}
	return total, maxId, nil
}

func (s *memCatalogStore) Batch(ctx context.Context, afterId uint, maxEntryId uint, limit int) ([]models.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CatalogEntry
	for i := range s.entries {
		e := s.entries[i]
		if e.ID <= afterId || e.ID > maxEntryId || !entryActive(&e) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func entryActive(e *models.CatalogEntry) bool {
	return e.Active == nil || *e.Active
}

func (s *memCatalogStore) SetWarehouseHandle(ctx context.Context, entry *models.CatalogEntry, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setHandleErr != nil {
		return s.setHandleErr
	}
	s.warehouseHandleWrites++
	entry.WarehouseHandle = handle
	for i := range s.entries {
		if s.entries[i].ID == entry.ID {
			s.entries[i].WarehouseHandle = handle
		}
	}
	return nil
}

func (s *memCatalogStore) SetChannelHandle(ctx context.Context, entry *models.CatalogEntry, channel string, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setHandleErr != nil {
		return s.setHandleErr
	}
	s.channelHandleWrites++
	handles := entry.ChannelHandles()
	handles[channel] = handle
	encoded := encodeHandles(handles)
	entry.ChannelHandlesJSON = encoded
	for i := range s.entries {
		if s.entries[i].ID == entry.ID {
			s.entries[i].ChannelHandlesJSON = encoded
		}
	}
	return nil
}

func encodeHandles(m map[string]string) []byte {
	b, _ := json.Marshal(m)
	return b
}

type memInventoryStore struct {
	mu      sync.Mutex
	records map[string]models.InventoryRecord
	purges  int
}

func newMemInventoryStore() *memInventoryStore {
	return &memInventoryStore{records: map[string]models.InventoryRecord{}}
}

func (s *memInventoryStore) Replace(ctx context.Context, records []models.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.WarehouseSku+"|"+r.Location] = r
	}
	return nil
}

func (s *memInventoryStore) Purge(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	n := int64(len(s.records))
	s.records = map[string]models.InventoryRecord{}
	return n, nil
}

func (s *memInventoryStore) List(ctx context.Context, skus []string, location string) ([]models.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.InventoryRecord
	for _, sku := range skus {
		if r, ok := s.records[sku+"|"+location]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type memResultStore struct {
	mu         sync.Mutex
	results    []models.BatchResult
	itemErrors []models.SyncItemError
}

// AppendBatchResult mirrors the upsert semantics of the model: one row per
// (session, batch), a re-run supersedes the earlier row.
func (s *memResultStore) AppendBatchResult(ctx context.Context, result *models.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.results {
		if s.results[i].SessionId == result.SessionId && s.results[i].BatchNumber == result.BatchNumber {
			s.results[i] = *result
			return nil
		}
	}
	s.results = append(s.results, *result)
	return nil
}

func (s *memResultStore) ListBatchResults(ctx context.Context, sessionId uint) ([]models.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BatchResult
	for _, r := range s.results {
		if r.SessionId == sessionId {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memResultStore) RecordItemError(ctx context.Context, itemErr *models.SyncItemError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemErrors = append(s.itemErrors, *itemErr)
	return nil
}

func (s *memResultStore) ListItemErrors(ctx context.Context, sessionId uint) ([]models.SyncItemError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncItemError
	for _, e := range s.itemErrors {
		if e.SessionId == sessionId {
			out = append(out, e)
		}
	}
	return out, nil
}

type memIndexCache struct {
	mu   sync.Mutex
	idx  *productIndex
	sets int
}

func (c *memIndexCache) Get(ctx context.Context) (*productIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx == nil {
		return nil, false
	}
	return c.idx, true
}

func (c *memIndexCache) Set(ctx context.Context, idx *productIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = idx
	c.sets++
}

func (c *memIndexCache) Drop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = nil
}

// recordingSignaler captures continuation signals without delivering them;
// tests drive ProcessNext explicitly.
type recordingSignaler struct {
	mu      sync.Mutex
	signals []int
	err     error
}

func (s *recordingSignaler) SignalContinue(ctx context.Context, sessionId uint, batch int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.signals = append(s.signals, batch)
	return nil
}

func (s *recordingSignaler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}
