package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// CatalogClient pushes availability labels and weighted import prices to the
// product catalog service.
type CatalogClient struct {
	baseURL string
	client  *http.Client
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *CatalogClient) ChangeVariantStatus(ctx context.Context, variantID int64, status domain.AvailabilityStatus) error {
	body := map[string]any{"status": status}
	url := fmt.Sprintf("%s/internal/variants/%d/status", c.baseURL, variantID)
	return c.patch(ctx, url, body)
}

func (c *CatalogClient) UpdateImportPrice(ctx context.Context, variantID int64, oldQuantity, newQuantity int, price float64) error {
	body := map[string]any{
		"old_quantity": oldQuantity,
		"new_quantity": newQuantity,
		"import_price": price,
	}
	url := fmt.Sprintf("%s/internal/variants/%d/import-price", c.baseURL, variantID)
	return c.patch(ctx, url, body)
}

func (c *CatalogClient) patch(ctx context.Context, url string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
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
		return fmt.Errorf("catalog responded %d for %s", resp.StatusCode, url)
	}
	return nil
}
