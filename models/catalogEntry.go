package models

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
	"gorm.io/gorm"
)

var (
	ErrCatalogVersionConflict = errors.New("catalog entry version conflict")
	ErrCatalogEntryShape      = errors.New("catalog entry must have either a warehouse sku or components, not both")
)

// CatalogEntry links one sellable unit across systems: the warehouse SKU (or
// component SKUs for bundles), per-channel SKUs and the opaque per-system
// handles discovered lazily by the identifier resolver.
type CatalogEntry struct {
	ID                 uint      `gorm:"primary_key" json:"id"`
	WarehouseSku       string    `gorm:"index;size:128" json:"warehouse_sku"`
	WarehouseHandle    string    `gorm:"size:128" json:"warehouse_handle"`
	ChannelSkusJSON    []byte    `gorm:"type:json" json:"channel_skus"`
	ChannelHandlesJSON []byte    `gorm:"type:json" json:"channel_handles"`
	Active             *bool     `gorm:"not null;default:true" json:"active"`
	Version            int       `gorm:"not null;default:1" json:"version"`
	UpdatedBy          string    `gorm:"size:100" json:"updated_by"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Components []CatalogComponent `gorm:"foreignKey:EntryId" json:"components"`
}

// CatalogComponent is one (sku, required qty) leg of a bundle entry, ordered
// by Position.
type CatalogComponent struct {
	ID           uint   `gorm:"primary_key" json:"id"`
	EntryId      uint   `gorm:"index;not null" json:"entry_id"`
	Position     int    `gorm:"not null" json:"position"`
	WarehouseSku string `gorm:"index;size:128;not null" json:"warehouse_sku"`
	RequiredQty  int    `gorm:"not null" json:"required_qty"`
}

// CatalogRevision is the append-only audit trail for catalog writes. Every
// versioned update produces one row; rows are never mutated.
type CatalogRevision struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	EntryId   uint      `gorm:"index;not null" json:"entry_id"`
	Version   int       `gorm:"not null" json:"version"`
	Action    string    `gorm:"size:20;not null" json:"action"`
	Before    []byte    `gorm:"type:json" json:"before"`
	After     []byte    `gorm:"type:json" json:"after"`
	Actor     string    `gorm:"size:100" json:"actor"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (e *CatalogEntry) IsBundle() bool {
	return len(e.Components) > 0
}

func (e *CatalogEntry) ChannelSkus() map[string]string {
	return decodeStringMap(e.ChannelSkusJSON)
}

func (e *CatalogEntry) ChannelHandles() map[string]string {
	return decodeStringMap(e.ChannelHandlesJSON)
}

func decodeStringMap(raw []byte) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]string{}
	}
	return m
}

func encodeStringMap(m map[string]string) []byte {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return b
}

type NewCatalogEntry struct {
	WarehouseSku string                `json:"warehouse_sku"`
	ChannelSkus  map[string]string     `json:"channel_skus"`
	Components   []NewCatalogComponent `json:"components"`
}

type NewCatalogComponent struct {
	WarehouseSku string `json:"warehouse_sku" binding:"required"`
	RequiredQty  int    `json:"required_qty" binding:"required"`
}

func (input *NewCatalogEntry) validate() error {
	hasSku := strings.TrimSpace(input.WarehouseSku) != ""
	hasComponents := len(input.Components) > 0
	if hasSku == hasComponents {
		return ErrCatalogEntryShape
	}
	for _, c := range input.Components {
		if strings.TrimSpace(c.WarehouseSku) == "" || c.RequiredQty <= 0 {
			return errors.New("bundle component requires a sku and a positive quantity")
		}
	}
	return nil
}

func CreateCatalogEntry(ctx context.Context, input *NewCatalogEntry) (*CatalogEntry, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	entry := CatalogEntry{
		WarehouseSku:       strings.TrimSpace(input.WarehouseSku),
		ChannelSkusJSON:    encodeStringMap(input.ChannelSkus),
		ChannelHandlesJSON: encodeStringMap(nil),
		Active:             utils.NewTrue(),
		Version:            1,
		UpdatedBy:          actorFromContext(ctx),
	}
	for i, c := range input.Components {
		entry.Components = append(entry.Components, CatalogComponent{
			Position:     i + 1,
			WarehouseSku: strings.TrimSpace(c.WarehouseSku),
			RequiredQty:  c.RequiredQty,
		})
	}

	db := config.GetDB().WithContext(ctx)
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		after, _ := json.Marshal(entry)
		return tx.Create(&CatalogRevision{
			EntryId: entry.ID,
			Version: entry.Version,
			Action:  CatalogActionCreate,
			After:   after,
			Actor:   entry.UpdatedBy,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CountActiveCatalogEntries returns the size of the SKU universe one sync
// session walks.
func CountActiveCatalogEntries(ctx context.Context) (int, error) {
	var count int64
	err := config.GetDB().WithContext(ctx).
		Model(&CatalogEntry{}).
		Where("active = ?", true).
		Count(&count).Error
	return int(count), err
}

// ActiveCatalogSnapshot returns the active entry count and the highest active
// entry id. Sessions are created from this snapshot so entries added while a
// session runs wait for the next one.
func ActiveCatalogSnapshot(ctx context.Context) (int, uint, error) {
	var snap struct {
		Total int
		MaxId uint
	}
	err := config.GetDB().WithContext(ctx).
		Model(&CatalogEntry{}).
		Select("COUNT(*) AS total, COALESCE(MAX(id), 0) AS max_id").
		Where("active = ?", true).
		Take(&snap).Error
	return snap.Total, snap.MaxId, err
}

// GetCatalogEntriesBatch returns one batch-sized slice of the universe a
// session walks: active entries with id in (afterId, maxId], in stable id
// order, components preloaded in declared order. Keying by id instead of an
// offset means a concurrent deactivation can never shift an unprocessed entry
// out of a later batch.
func GetCatalogEntriesBatch(ctx context.Context, afterId uint, maxId uint, limit int) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	err := config.GetDB().WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("catalog_components.position ASC")
		}).
		Where("active = ? AND id > ? AND id <= ?", true, afterId, maxId).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// SetWarehouseHandle persists a self-healed warehouse handle. The write is
// versioned: it only applies if the entry has not moved since it was read,
// and it appends a revision row. A conflict returns ErrCatalogVersionConflict
// so the caller can keep using the handle for the current cycle only.
func SetWarehouseHandle(ctx context.Context, entry *CatalogEntry, handle string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return errors.New("warehouse handle is empty")
	}
	return updateEntryVersioned(ctx, entry, CatalogActionHandleHeal, func(e *CatalogEntry) {
		e.WarehouseHandle = handle
	}, map[string]interface{}{"warehouse_handle": handle})
}

// SetChannelHandle persists a self-healed channel-side handle for one channel.
func SetChannelHandle(ctx context.Context, entry *CatalogEntry, channel string, handle string) error {
	handle = strings.TrimSpace(handle)
	if channel == "" || handle == "" {
		return errors.New("channel and handle are required")
	}
	handles := entry.ChannelHandles()
	handles[channel] = handle
	encoded := encodeStringMap(handles)
	return updateEntryVersioned(ctx, entry, CatalogActionHandleHeal, func(e *CatalogEntry) {
		e.ChannelHandlesJSON = encoded
	}, map[string]interface{}{"channel_handles_json": encoded})
}

func updateEntryVersioned(ctx context.Context, entry *CatalogEntry, action string, apply func(*CatalogEntry), updates map[string]interface{}) error {
	actor := actorFromContext(ctx)
	before, _ := json.Marshal(entry)

	newVersion := entry.Version + 1
	updates["version"] = newVersion
	updates["updated_by"] = actor

	db := config.GetDB().WithContext(ctx)
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&CatalogEntry{}).
			Where("id = ? AND version = ?", entry.ID, entry.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCatalogVersionConflict
		}

		apply(entry)
		entry.Version = newVersion
		entry.UpdatedBy = actor
		after, _ := json.Marshal(entry)

		return tx.Create(&CatalogRevision{
			EntryId: entry.ID,
			Version: newVersion,
			Action:  action,
			Before:  before,
			After:   after,
			Actor:   actor,
		}).Error
	})
}

func actorFromContext(ctx context.Context) string {
	if actor, ok := utils.GetActorFromContext(ctx); ok && actor != "" {
		return actor
	}
	return "system"
}

// ReferencedWarehouseSkus returns every warehouse sku the active catalog can
// reach, directly or through bundle components. Inventory rows outside this
// set are stale and get purged at session start.
func ReferencedWarehouseSkus(ctx context.Context) ([]string, error) {
	db := config.GetDB().WithContext(ctx)

	var direct []string
	if err := db.Model(&CatalogEntry{}).
		Where("active = ? AND warehouse_sku <> ''", true).
		Pluck("warehouse_sku", &direct).Error; err != nil {
		return nil, err
	}

	var viaComponents []string
	if err := db.Model(&CatalogComponent{}).
		Joins("JOIN catalog_entries ON catalog_entries.id = catalog_components.entry_id").
		Where("catalog_entries.active = ?", true).
		Pluck("catalog_components.warehouse_sku", &viaComponents).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(direct)+len(viaComponents))
	out := make([]string, 0, len(direct)+len(viaComponents))
	for _, sku := range append(direct, viaComponents...) {
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, sku)
	}
	return out, nil
}
