package adapters

import (
	"context"
	"net/http"
	"net/url"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/stocksync"
)

// MarketplaceClient pushes quantities to the third-party marketplace. Its
// batch endpoint caps at 25 listings and has been retired on some regional
// deployments, where it answers 404/410 and we fall back to per-item calls.
type MarketplaceClient struct {
	api *apiClient
}

func NewMarketplaceClient() (*MarketplaceClient, error) {
	api, err := newAPIClient("MARKETPLACE", 60)
	if err != nil {
		return nil, err
	}
	return &MarketplaceClient{api: api}, nil
}

func (c *MarketplaceClient) Name() string   { return models.ChannelMarketplace }
func (c *MarketplaceClient) BulkLimit() int { return 25 }

type marketplaceBatchRequest struct {
	Listings []marketplaceQuantity `json:"listings"`
}

type marketplaceQuantity struct {
	ListingId string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
}

type marketplaceBatchResponse struct {
	Results []struct {
		ListingId string `json:"listing_id"`
		Status    string `json:"status"`
		Message   string `json:"message"`
	} `json:"results"`
}

func (c *MarketplaceClient) BulkSetQuantity(ctx context.Context, updates []stocksync.QuantityUpdate) ([]stocksync.ItemOutcome, error) {
	req := marketplaceBatchRequest{Listings: make([]marketplaceQuantity, 0, len(updates))}
	for _, u := range updates {
		req.Listings = append(req.Listings, marketplaceQuantity{ListingId: u.Handle, Quantity: u.Quantity})
	}

	var resp marketplaceBatchResponse
	if err := c.api.sendJSON(ctx, http.MethodPost, "/v2/listings/quantity/batch", req, &resp); err != nil {
		switch statusOf(err) {
		case http.StatusNotFound, http.StatusGone:
			return nil, stocksync.ErrBulkUnsupported
		}
		return nil, err
	}

	outcomes := make([]stocksync.ItemOutcome, 0, len(resp.Results))
	for _, r := range resp.Results {
		outcomes = append(outcomes, stocksync.ItemOutcome{
			Handle: r.ListingId,
			OK:     r.Status == "ok",
			Error:  r.Message,
		})
	}
	return outcomes, nil
}

func (c *MarketplaceClient) SetQuantity(ctx context.Context, update stocksync.QuantityUpdate) error {
	body := map[string]int{"quantity": update.Quantity}
	err := c.api.sendJSON(ctx, http.MethodPut, "/v2/listings/"+url.PathEscape(update.Handle)+"/quantity", body, nil)
	if err != nil && statusOf(err) == http.StatusUnprocessableEntity {
		return &stocksync.ValidationError{Sku: update.Sku, Reason: err.Error()}
	}
	return err
}

type marketplaceListingsResponse struct {
	Listings []struct {
		ListingId string `json:"listing_id"`
	} `json:"listings"`
}

func (c *MarketplaceClient) ResolveHandle(ctx context.Context, channelSku string) (string, error) {
	params := url.Values{}
	params.Set("seller_sku", channelSku)

	var resp marketplaceListingsResponse
	err := c.api.getJSON(ctx, "/v2/listings", params, &resp)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return "", stocksync.ErrNotFound
		}
		return "", err
	}
	if len(resp.Listings) == 0 {
		return "", stocksync.ErrNotFound
	}
	return resp.Listings[0].ListingId, nil
}
