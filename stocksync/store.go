package stocksync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"github.com/bsm/redislock"
)

// Narrow store contracts over the models package so the orchestrator is
// testable with in-memory fakes. The gorm-backed implementations below are
// thin delegations.

type SessionStore interface {
	Create(ctx context.Context, totalSkus int, batchSize int, maxEntryId uint, triggeredBy string) (*models.SyncSession, error)
	Get(ctx context.Context, id uint) (*models.SyncSession, error)
	Active(ctx context.Context) (*models.SyncSession, error)
	Latest(ctx context.Context) (*models.SyncSession, error)
	List(ctx context.Context, limit int) ([]models.SyncSession, error)
	Advance(ctx context.Context, session *models.SyncSession, adv models.SessionAdvance) error
	Touch(ctx context.Context, id uint) error
	RequestCancel(ctx context.Context, id uint) error
	ResetFailed(ctx context.Context, id uint) (*models.SyncSession, error)
}

type CatalogStore interface {
	Snapshot(ctx context.Context) (total int, maxEntryId uint, err error)
	Batch(ctx context.Context, afterId uint, maxEntryId uint, limit int) ([]models.CatalogEntry, error)
	SetWarehouseHandle(ctx context.Context, entry *models.CatalogEntry, handle string) error
	SetChannelHandle(ctx context.Context, entry *models.CatalogEntry, channel string, handle string) error
}

type InventoryStore interface {
	Replace(ctx context.Context, records []models.InventoryRecord) error
	Purge(ctx context.Context) (int64, error)
	List(ctx context.Context, skus []string, location string) ([]models.InventoryRecord, error)
}

type ResultStore interface {
	AppendBatchResult(ctx context.Context, result *models.BatchResult) error
	ListBatchResults(ctx context.Context, sessionId uint) ([]models.BatchResult, error)
	RecordItemError(ctx context.Context, itemErr *models.SyncItemError) error
	ListItemErrors(ctx context.Context, sessionId uint) ([]models.SyncItemError, error)
}

type Stores struct {
	Sessions  SessionStore
	Catalog   CatalogStore
	Inventory InventoryStore
	Results   ResultStore
}

// NewStores returns the database-backed store set.
func NewStores() Stores {
	return Stores{
		Sessions:  dbSessionStore{},
		Catalog:   dbCatalogStore{},
		Inventory: dbInventoryStore{},
		Results:   dbResultStore{},
	}
}

type dbSessionStore struct{}

func (dbSessionStore) Create(ctx context.Context, totalSkus int, batchSize int, maxEntryId uint, triggeredBy string) (*models.SyncSession, error) {
	return models.CreateSyncSession(ctx, totalSkus, batchSize, maxEntryId, triggeredBy)
}

func (dbSessionStore) Get(ctx context.Context, id uint) (*models.SyncSession, error) {
	return models.GetSyncSession(ctx, id)
}

func (dbSessionStore) Active(ctx context.Context) (*models.SyncSession, error) {
	return models.GetActiveSyncSession(ctx)
}

func (dbSessionStore) Latest(ctx context.Context) (*models.SyncSession, error) {
	return models.GetLatestSyncSession(ctx)
}

func (dbSessionStore) List(ctx context.Context, limit int) ([]models.SyncSession, error) {
	return models.ListSyncSessions(ctx, limit)
}

func (dbSessionStore) Advance(ctx context.Context, session *models.SyncSession, adv models.SessionAdvance) error {
	return models.AdvanceSyncSession(ctx, session, adv)
}

func (dbSessionStore) Touch(ctx context.Context, id uint) error {
	return models.TouchSyncSession(ctx, id)
}

func (dbSessionStore) RequestCancel(ctx context.Context, id uint) error {
	return models.RequestSessionCancel(ctx, id)
}

func (dbSessionStore) ResetFailed(ctx context.Context, id uint) (*models.SyncSession, error) {
	return models.ResetFailedSession(ctx, id)
}

type dbCatalogStore struct{}

func (dbCatalogStore) Snapshot(ctx context.Context) (int, uint, error) {
	return models.ActiveCatalogSnapshot(ctx)
}

func (dbCatalogStore) Batch(ctx context.Context, afterId uint, maxEntryId uint, limit int) ([]models.CatalogEntry, error) {
	return models.GetCatalogEntriesBatch(ctx, afterId, maxEntryId, limit)
}

func (dbCatalogStore) SetWarehouseHandle(ctx context.Context, entry *models.CatalogEntry, handle string) error {
	return models.SetWarehouseHandle(ctx, entry, handle)
}

func (dbCatalogStore) SetChannelHandle(ctx context.Context, entry *models.CatalogEntry, channel string, handle string) error {
	return models.SetChannelHandle(ctx, entry, channel, handle)
}

type dbInventoryStore struct{}

func (dbInventoryStore) Replace(ctx context.Context, records []models.InventoryRecord) error {
	return models.ReplaceInventoryRecords(ctx, records)
}

func (dbInventoryStore) Purge(ctx context.Context) (int64, error) {
	return models.PurgeUnreferencedInventory(ctx)
}

func (dbInventoryStore) List(ctx context.Context, skus []string, location string) ([]models.InventoryRecord, error) {
	return models.GetInventoryRecords(ctx, skus, location)
}

type dbResultStore struct{}

func (dbResultStore) AppendBatchResult(ctx context.Context, result *models.BatchResult) error {
	return models.AppendBatchResult(ctx, result)
}

func (dbResultStore) ListBatchResults(ctx context.Context, sessionId uint) ([]models.BatchResult, error) {
	return models.ListBatchResults(ctx, sessionId)
}

func (dbResultStore) RecordItemError(ctx context.Context, itemErr *models.SyncItemError) error {
	return models.RecordItemError(ctx, itemErr)
}

func (dbResultStore) ListItemErrors(ctx context.Context, sessionId uint) ([]models.SyncItemError, error) {
	return models.ListItemErrors(ctx, sessionId)
}

// Locker serializes batch advancement across instances so a manual trigger
// racing the monitor cannot both process the same batch. The conditional
// session update is the correctness guarantee; the lock just avoids wasted
// duplicate work.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

const advanceLockKey = "stocksync:session-advance"

// RedisLocker backs Locker with redislock. When Redis is not connected it
// degrades to a no-op, matching how the config package treats a nil client.
type RedisLocker struct{}

func (RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	client := config.GetRedisLock()
	if client == nil {
		return func() {}, nil
	}
	lock, err := client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if err == redislock.ErrNotObtained {
			return nil, &SessionStateError{Op: "lock", Reason: "another invocation is processing the session"}
		}
		return nil, err
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}
