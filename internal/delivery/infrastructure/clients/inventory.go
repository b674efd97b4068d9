package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/orderflow/fulfillment/internal/delivery/application"
)

// InventoryClient books stock exports and returns against the inventory
// service ledger.
type InventoryClient struct {
	baseURL string
	client  *http.Client
}

func NewInventoryClient(baseURL string) *InventoryClient {
	return &InventoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *InventoryClient) CreateOrderExports(ctx context.Context, orderNumber string, actorID int64, items []application.ExportItem) error {
	reqItems := make([]map[string]any, 0, len(items))
	for _, it := range items {
		reqItems = append(reqItems, map[string]any{
			"variant_id":     it.VariantID,
			"quantity":       it.Quantity,
			"price_per_item": it.PricePerItem,
		})
	}
	body := map[string]any{
		"order_number": orderNumber,
		"actor_id":     actorID,
		"items":        reqItems,
	}
	return c.post(ctx, c.baseURL+"/transactions/orders", body)
}

func (c *InventoryClient) CreateReturnTransactions(ctx context.Context, orderNumber string, actorID int64, note string) error {
	body := map[string]any{
		"order_number": orderNumber,
		"actor_id":     actorID,
		"note":         note,
	}
	return c.post(ctx, c.baseURL+"/transactions/returns", body)
}

func (c *InventoryClient) post(ctx context.Context, url string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("inventory responded %d for %s", resp.StatusCode, url)
	}
	return nil
}
