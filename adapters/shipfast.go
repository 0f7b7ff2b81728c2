package adapters

import (
	"context"
	"net/http"
	"net/url"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/stocksync"
)

// ShipfastClient keeps the fulfilment provider's stock mirror current. The
// provider has no bulk endpoint at all, so every update is a single call.
type ShipfastClient struct {
	api *apiClient
}

func NewShipfastClient() (*ShipfastClient, error) {
	api, err := newAPIClient("SHIPFAST", 90)
	if err != nil {
		return nil, err
	}
	return &ShipfastClient{api: api}, nil
}

func (c *ShipfastClient) Name() string   { return models.ChannelShipping }
func (c *ShipfastClient) BulkLimit() int { return 0 }

func (c *ShipfastClient) BulkSetQuantity(ctx context.Context, updates []stocksync.QuantityUpdate) ([]stocksync.ItemOutcome, error) {
	return nil, stocksync.ErrBulkUnsupported
}

type shipfastUpdateRequest struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

func (c *ShipfastClient) SetQuantity(ctx context.Context, update stocksync.QuantityUpdate) error {
	body := shipfastUpdateRequest{ProductCode: update.Handle, Quantity: update.Quantity}
	err := c.api.sendJSON(ctx, http.MethodPost, "/api/stock/update", body, nil)
	if err != nil && statusOf(err) == http.StatusUnprocessableEntity {
		return &stocksync.ValidationError{Sku: update.Sku, Reason: err.Error()}
	}
	return err
}

type shipfastProductResponse struct {
	Products []struct {
		Code string `json:"code"`
	} `json:"products"`
}

func (c *ShipfastClient) ResolveHandle(ctx context.Context, channelSku string) (string, error) {
	params := url.Values{}
	params.Set("sku", channelSku)

	var resp shipfastProductResponse
	err := c.api.getJSON(ctx, "/api/products", params, &resp)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return "", stocksync.ErrNotFound
		}
		return "", err
	}
	if len(resp.Products) == 0 {
		return "", stocksync.ErrNotFound
	}
	return resp.Products[0].Code, nil
}
