package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OrderClient reports fulfillment progress back to the order service.
type OrderClient struct {
	baseURL string
	client  *http.Client
}

func NewOrderClient(baseURL string) *OrderClient {
	return &OrderClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *OrderClient) UpdateOrderStatus(ctx context.Context, orderNumbers []string, actorID, statusID int64, note string) error {
	body := map[string]any{
		"order_numbers": orderNumbers,
		"actor_id":      actorID,
		"status_id":     statusID,
		"note":          note,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.baseURL + "/internal/orders/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(buf))
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
		return fmt.Errorf("order service responded %d for %s", resp.StatusCode, url)
	}
	return nil
}
