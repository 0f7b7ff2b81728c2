package adapters

import (
	"context"
	"net/http"
	"net/url"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/stocksync"
)

// StorefrontClient pushes quantities to the hosted webshop. The platform
// accepts up to 100 items per bulk call and reports a per-item verdict.
type StorefrontClient struct {
	api *apiClient
}

func NewStorefrontClient() (*StorefrontClient, error) {
	api, err := newAPIClient("STOREFRONT", 240)
	if err != nil {
		return nil, err
	}
	return &StorefrontClient{api: api}, nil
}

func (c *StorefrontClient) Name() string   { return models.ChannelStorefront }
func (c *StorefrontClient) BulkLimit() int { return 100 }

type storefrontBulkRequest struct {
	Updates []storefrontUpdate `json:"updates"`
}

type storefrontUpdate struct {
	Handle   string `json:"handle"`
	Quantity int    `json:"quantity"`
}

type storefrontBulkResponse struct {
	Results []struct {
		Handle string `json:"handle"`
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
	} `json:"results"`
}

func (c *StorefrontClient) BulkSetQuantity(ctx context.Context, updates []stocksync.QuantityUpdate) ([]stocksync.ItemOutcome, error) {
	req := storefrontBulkRequest{Updates: make([]storefrontUpdate, 0, len(updates))}
	for _, u := range updates {
		req.Updates = append(req.Updates, storefrontUpdate{Handle: u.Handle, Quantity: u.Quantity})
	}

	var resp storefrontBulkResponse
	if err := c.api.sendJSON(ctx, http.MethodPost, "/admin/inventory/bulk_set", req, &resp); err != nil {
		return nil, err
	}

	outcomes := make([]stocksync.ItemOutcome, 0, len(resp.Results))
	for _, r := range resp.Results {
		outcomes = append(outcomes, stocksync.ItemOutcome{Handle: r.Handle, OK: r.OK, Error: r.Error})
	}
	return outcomes, nil
}

func (c *StorefrontClient) SetQuantity(ctx context.Context, update stocksync.QuantityUpdate) error {
	body := storefrontUpdate{Handle: update.Handle, Quantity: update.Quantity}
	err := c.api.sendJSON(ctx, http.MethodPost, "/admin/inventory/set", body, nil)
	if err != nil && statusOf(err) == http.StatusUnprocessableEntity {
		return &stocksync.ValidationError{Sku: update.Sku, Reason: err.Error()}
	}
	return err
}

type storefrontLookupResponse struct {
	Handle string `json:"handle"`
}

func (c *StorefrontClient) ResolveHandle(ctx context.Context, channelSku string) (string, error) {
	params := url.Values{}
	params.Set("sku", channelSku)

	var resp storefrontLookupResponse
	err := c.api.getJSON(ctx, "/admin/products/lookup", params, &resp)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return "", stocksync.ErrNotFound
		}
		return "", err
	}
	if resp.Handle == "" {
		return "", stocksync.ErrNotFound
	}
	return resp.Handle, nil
}
