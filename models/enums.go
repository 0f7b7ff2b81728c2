package models

const (
	SyncSessionStatusPending    = "pending"
	SyncSessionStatusInProgress = "in_progress"
	SyncSessionStatusCompleted  = "completed"
	SyncSessionStatusFailed     = "failed"
)

const (
	SyncTriggeredManual  = "manual"
	SyncTriggeredMonitor = "monitor"
	SyncTriggeredSystem  = "system"
)

// Channel names are stable keys into a catalog entry's channel sku/handle maps.
const (
	ChannelStorefront  = "storefront"
	ChannelMarketplace = "marketplace"
	ChannelShipping    = "shipping"
)

// Item error codes recorded per (session, batch, sku). fetch_failed is an
// error path; a legitimately zero stock level is pushed as zero and never
// recorded here.
const (
	ItemErrorFetchFailed     = "fetch_failed"
	ItemErrorHandleNotFound  = "handle_not_found"
	ItemErrorMissingHandle   = "missing_channel_handle"
	ItemErrorDispatchFailed  = "dispatch_failed"
	ItemErrorChannelRejected = "channel_rejected"
	ItemErrorBadCatalogEntry = "bad_catalog_entry"
)

const (
	CatalogActionCreate     = "create"
	CatalogActionUpdate     = "update"
	CatalogActionHandleHeal = "handle_heal"
)
