package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rl1809/shopflow/internal/core/domain"
)

// HTTPCatalog looks products up in a remote catalog service.
type HTTPCatalog struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	return &HTTPCatalog{
		client:  resty.New().SetTimeout(timeout).SetRetryCount(0),
		baseURL: baseURL,
	}
}

func (c *HTTPCatalog) Lookup(ctx context.Context, productID string) (*domain.Product, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(c.baseURL + "/products/" + productID)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var product domain.Product
	if err := json.Unmarshal(resp.Body(), &product); err != nil {
		return nil, fmt.Errorf("parse product: %w", err)
	}
	return &product, nil
}
