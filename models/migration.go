package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&CatalogEntry{}, &CatalogComponent{}, &CatalogRevision{},
		&InventoryRecord{},
		&SyncSession{}, &BatchResult{}, &SyncItemError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
