package adapters

import (
	"fmt"

	"bitbucket.org/mmdatafocus/stocksync_backend/stocksync"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

// NewChannels builds the enabled channel adapters. Each channel is switched
// with {PREFIX}_ENABLED so a deployment can run against a subset, but an
// enabled channel with broken configuration fails startup rather than being
// skipped silently.
func NewChannels() ([]stocksync.ChannelAdapter, error) {
	var channels []stocksync.ChannelAdapter

	if utils.EnvBool("STOREFRONT_ENABLED", true) {
		c, err := NewStorefrontClient()
		if err != nil {
			return nil, fmt.Errorf("storefront channel: %w", err)
		}
		channels = append(channels, c)
	}
	if utils.EnvBool("MARKETPLACE_ENABLED", true) {
		c, err := NewMarketplaceClient()
		if err != nil {
			return nil, fmt.Errorf("marketplace channel: %w", err)
		}
		channels = append(channels, c)
	}
	if utils.EnvBool("SHIPFAST_ENABLED", true) {
		c, err := NewShipfastClient()
		if err != nil {
			return nil, fmt.Errorf("shipping channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, nil
}
