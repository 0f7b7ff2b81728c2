package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"bitbucket.org/mmdatafocus/stocksync_backend/stocksync"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

// WMSClient reads the warehouse management system: the product index used
// for identifier resolution and the per-bin stock levels behind every
// quantity we push. Configured through WMS_* environment variables.
type WMSClient struct {
	api      *apiClient
	pageSize int
}

func NewWMSClient() (*WMSClient, error) {
	api, err := newAPIClient("WMS", 120)
	if err != nil {
		return nil, err
	}
	return &WMSClient{
		api:      api,
		pageSize: utils.EnvInt("WMS_PAGE_SIZE", 250),
	}, nil
}

type wmsProductPage struct {
	Items      []stocksync.SourceProduct `json:"items"`
	NextCursor string                    `json:"next_cursor"`
	HasMore    *bool                     `json:"has_more"`
}

// ListProducts walks the cursor-paginated product index to the end. The
// result feeds the in-memory sku/barcode index, so one full walk per sync
// cycle is the expected access pattern.
func (c *WMSClient) ListProducts(ctx context.Context) ([]stocksync.SourceProduct, error) {
	var products []stocksync.SourceProduct
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var page wmsProductPage
		if err := c.api.getJSON(ctx, "/api/v1/products", params, &page); err != nil {
			return nil, err
		}
		products = append(products, page.Items...)

		if page.NextCursor == "" || (page.HasMore != nil && !*page.HasMore) || len(page.Items) == 0 {
			return products, nil
		}
		cursor = page.NextCursor
	}
}

type wmsStockResponse struct {
	Bins []stocksync.BinStock `json:"bins"`
}

// GetStockByHandle returns the raw bin rows for one product at one location.
// Countability filtering (expiry, excluded bins) is the fetcher's job, not
// the adapter's.
func (c *WMSClient) GetStockByHandle(ctx context.Context, handle string, location string) ([]stocksync.BinStock, error) {
	params := url.Values{}
	if location != "" {
		params.Set("location", location)
	}

	var resp wmsStockResponse
	err := c.api.getJSON(ctx, "/api/v1/stock/"+url.PathEscape(handle), params, &resp)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, stocksync.ErrNotFound
		}
		return nil, err
	}
	return resp.Bins, nil
}
